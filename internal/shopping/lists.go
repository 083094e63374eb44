package shopping

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/recipes/internal/model"
)

var (
	ErrUnknownList = errors.New("unknown shopping list")
	ErrDefaultList = errors.New("the private list cannot be deleted")
	ErrUnknownItem = errors.New("unknown shopping item")
)

// DefaultListName is the display name of the private list.
const DefaultListName = "Private"

const stateVersion = 1

// State is the local book of shopping lists. Item operations act on the
// active list. State is not safe for concurrent use.
type State struct {
	lists       map[string]*model.ShoppingList
	active      string
	showChecked bool
	now         func() time.Time
}

// NewState returns a book holding only the empty private list.
func NewState() *State {
	return &State{
		lists: map[string]*model.ShoppingList{
			model.DefaultListKey: {Name: DefaultListName, Items: []model.ShoppingItem{}},
		},
		active:      model.DefaultListKey,
		showChecked: true,
		now:         time.Now,
	}
}

// restoreState rebuilds a book from its persisted form, repairing a
// missing private list or a dangling active key.
func restoreState(m model.ShoppingState) *State {
	s := NewState()
	for key, list := range m.Lists {
		if list == nil {
			continue
		}
		items := slices.Clone(list.Items)
		if items == nil {
			items = []model.ShoppingItem{}
		}
		s.lists[key] = &model.ShoppingList{Name: list.Name, Items: items}
	}
	if _, ok := s.lists[m.Active]; ok {
		s.active = m.Active
	}
	s.showChecked = m.ShowChecked
	return s
}

// Model returns a deep copy of the book in its persisted form.
func (s *State) Model() model.ShoppingState {
	m := model.ShoppingState{
		Lists:       make(map[string]*model.ShoppingList, len(s.lists)),
		Active:      s.active,
		ShowChecked: s.showChecked,
		Version:     stateVersion,
	}
	for key, list := range s.lists {
		m.Lists[key] = &model.ShoppingList{Name: list.Name, Items: slices.Clone(list.Items)}
	}
	return m
}

func (s *State) Active() string {
	return s.active
}

func (s *State) ShowChecked() bool {
	return s.showChecked
}

func (s *State) SetShowChecked(show bool) {
	s.showChecked = show
}

// Lists returns every known list ordered by name, the private list first.
func (s *State) Lists() []model.ListInfo {
	infos := make([]model.ListInfo, 0, len(s.lists))
	for key, list := range s.lists {
		infos = append(infos, model.ListInfo{ID: key, Name: list.Name})
	}
	slices.SortFunc(infos, func(a, b model.ListInfo) int {
		switch {
		case a.ID == model.DefaultListKey:
			return -1
		case b.ID == model.DefaultListKey:
			return 1
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// Create adds an empty list under a fresh key and makes it active.
func (s *State) Create(name string) string {
	key := uuid.NewString()
	s.Open(key, name)
	return key
}

// Open adds a list known by key, such as one shared by link, and makes it
// active. An existing list keeps its items.
func (s *State) Open(key, name string) {
	if list, ok := s.lists[key]; ok {
		if name != "" {
			list.Name = name
		}
	} else {
		s.lists[key] = &model.ShoppingList{Name: name, Items: []model.ShoppingItem{}}
	}
	s.active = key
}

func (s *State) Select(key string) error {
	if _, ok := s.lists[key]; !ok {
		return ErrUnknownList
	}
	s.active = key
	return nil
}

// Delete removes a list. Deleting the active list makes the private list
// active.
func (s *State) Delete(key string) error {
	if key == model.DefaultListKey {
		return ErrDefaultList
	}
	if _, ok := s.lists[key]; !ok {
		return ErrUnknownList
	}
	delete(s.lists, key)
	if s.active == key {
		s.active = model.DefaultListKey
	}
	return nil
}

// Merge adds lists reported by the server that are not known locally.
func (s *State) Merge(infos []model.ListInfo) int {
	added := 0
	for _, info := range infos {
		if info.ID == "" {
			continue
		}
		if _, ok := s.lists[info.ID]; ok {
			continue
		}
		s.lists[info.ID] = &model.ShoppingList{Name: info.Name, Items: []model.ShoppingItem{}}
		added++
	}
	return added
}

// List returns a copy of one list.
func (s *State) List(key string) (model.ShoppingList, bool) {
	list, ok := s.lists[key]
	if !ok {
		return model.ShoppingList{}, false
	}
	return model.ShoppingList{Name: list.Name, Items: slices.Clone(list.Items)}, true
}

func (s *State) items() []model.ShoppingItem {
	return s.lists[s.active].Items
}

// AddItems appends unchecked items to the active list, after every
// unchecked item already there. Blank texts are skipped.
func (s *State) AddItems(texts ...string) []model.ShoppingItem {
	list := s.lists[s.active]
	next := maxPosition(list.Items, false) + 1
	added := make([]model.ShoppingItem, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		added = append(added, model.ShoppingItem{
			ID:        uuid.NewString(),
			Text:      text,
			AddedTime: s.now().UTC(),
			Position:  next,
		})
		next++
	}
	list.Items = append(list.Items, added...)
	return added
}

// UpdateItem replaces an item of the active list. An item whose checked
// flag flips moves to the tail of the sequence it joins.
func (s *State) UpdateItem(item model.ShoppingItem) (model.ShoppingItem, error) {
	list := s.lists[s.active]
	i := indexOf(list.Items, item.ID)
	if i < 0 {
		return model.ShoppingItem{}, ErrUnknownItem
	}
	if list.Items[i].Checked != item.Checked {
		item.Position = maxPosition(list.Items, item.Checked) + 1
	}
	list.Items[i] = item
	return item, nil
}

// DeleteItem removes an item from the active list and returns it.
func (s *State) DeleteItem(id string) (model.ShoppingItem, error) {
	list := s.lists[s.active]
	i := indexOf(list.Items, id)
	if i < 0 {
		return model.ShoppingItem{}, ErrUnknownItem
	}
	item := list.Items[i]
	list.Items = slices.Delete(list.Items, i, i+1)
	return item, nil
}

// Clear empties the active list and returns the removed items.
func (s *State) Clear() []model.ShoppingItem {
	list := s.lists[s.active]
	removed := list.Items
	list.Items = []model.ShoppingItem{}
	return removed
}

// Move places an item at index within its own sequence (checked or
// unchecked) and renumbers that sequence from zero. It returns every item
// of the active list.
func (s *State) Move(id string, index int) ([]model.ShoppingItem, error) {
	list := s.lists[s.active]
	i := indexOf(list.Items, id)
	if i < 0 {
		return nil, ErrUnknownItem
	}
	checked := list.Items[i].Checked

	seq := sequence(list.Items, checked)
	from := slices.IndexFunc(seq, func(it model.ShoppingItem) bool { return it.ID == id })
	moved := seq[from]
	seq = slices.Delete(seq, from, from+1)
	index = max(0, min(index, len(seq)))
	seq = slices.Insert(seq, index, moved)
	for i := range seq {
		seq[i].Position = i
	}

	list.Items = append(sequence(list.Items, !checked), seq...)
	return slices.Clone(list.Items), nil
}

// Replace sets the items of a list to the server's copy. Unknown keys are
// ignored.
func (s *State) Replace(key string, items []model.ShoppingItem) bool {
	list, ok := s.lists[key]
	if !ok {
		return false
	}
	items = slices.Clone(items)
	if items == nil {
		items = []model.ShoppingItem{}
	}
	list.Items = items
	return true
}

// Unchecked returns the active list's open items by position.
func (s *State) Unchecked() []model.ShoppingItem {
	return sequence(s.items(), false)
}

// Checked returns the active list's done items by position.
func (s *State) Checked() []model.ShoppingItem {
	return sequence(s.items(), true)
}

func sequence(items []model.ShoppingItem, checked bool) []model.ShoppingItem {
	var seq []model.ShoppingItem
	for _, it := range items {
		if it.Checked == checked {
			seq = append(seq, it)
		}
	}
	slices.SortStableFunc(seq, func(a, b model.ShoppingItem) int {
		return a.Position - b.Position
	})
	return seq
}

func maxPosition(items []model.ShoppingItem, checked bool) int {
	highest := 0
	for _, it := range items {
		if it.Checked == checked && it.Position > highest {
			highest = it.Position
		}
	}
	return highest
}

func indexOf(items []model.ShoppingItem, id string) int {
	return slices.IndexFunc(items, func(it model.ShoppingItem) bool { return it.ID == id })
}
