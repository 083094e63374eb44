package recipes

import (
	"regexp"
	"strings"
	"time"

	"github.com/dukerupert/recipes/internal/model"
)

type apiRecipe struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	CategoryID  int64  `json:"categoryId"`
	Ingredients string `json:"ingredients"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Date        string `json:"date"`
	UserID      int64  `json:"userId"`
}

type apiCategory struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	UserID int64  `json:"userId"`
}

type apiComment struct {
	ID         int64   `json:"id"`
	Text       string  `json:"text"`
	UserID     int64   `json:"userId"`
	RecipeID   int64   `json:"recipeId"`
	Date       string  `json:"date"`
	EditedDate *string `json:"editedDate,omitempty"`
}

// recipeBody is the payload of recipe POST and PUT requests.
type recipeBody struct {
	Title       string `json:"title"`
	CategoryID  int64  `json:"categoryId"`
	Ingredients string `json:"ingredients"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

var bulletPrefix = regexp.MustCompile(`(?m)^\s*-\s+`)

// FlattenIngredients joins ingredient lines into the API's newline-delimited
// form. Blank lines after the first are dropped.
func FlattenIngredients(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		if i == 0 {
			b.WriteString(line)
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(line)
	}
	return b.String()
}

// ParseIngredients splits the API's ingredient string into lines, removing
// list bullets, carriage returns and blank lines.
func ParseIngredients(s string) []string {
	s = bulletPrefix.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r", "")
	lines := []string{}
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

var timeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTime accepts the date formats the API has been seen to emit. An
// unparseable value yields the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// index resolves API foreign keys against the cached families.
type index struct {
	categories map[int64]model.Category
	users      map[int64]model.User
	comments   map[int64][]apiComment
}

func newIndex(categories []model.Category, users []model.User, comments []apiComment) index {
	idx := index{
		categories: make(map[int64]model.Category, len(categories)),
		users:      make(map[int64]model.User, len(users)),
		comments:   make(map[int64][]apiComment),
	}
	for _, c := range categories {
		idx.categories[c.ID] = c
	}
	for _, u := range users {
		idx.users[u.ID] = u
	}
	for _, c := range comments {
		idx.comments[c.RecipeID] = append(idx.comments[c.RecipeID], c)
	}
	return idx
}

func (idx index) user(id int64) *model.User {
	if u, ok := idx.users[id]; ok {
		return &u
	}
	return nil
}

func (idx index) recipeComments(recipeID int64) []model.Comment {
	raw := idx.comments[recipeID]
	comments := make([]model.Comment, 0, len(raw))
	for _, c := range raw {
		comment := model.Comment{
			ID:     c.ID,
			Text:   c.Text,
			Author: idx.user(c.UserID),
			Date:   parseTime(c.Date),
		}
		if c.EditedDate != nil && *c.EditedDate != "" {
			edited := parseTime(*c.EditedDate)
			comment.Edited = &edited
		}
		comments = append(comments, comment)
	}
	return comments
}

func (idx index) recipe(r apiRecipe) model.Recipe {
	recipe := model.Recipe{
		ID:          model.Int64(r.ID),
		Title:       r.Title,
		Ingredients: ParseIngredients(r.Ingredients),
		Description: r.Description,
		Image:       r.Image,
		Date:        parseTime(r.Date),
		Owner:       idx.user(r.UserID),
		Comments:    idx.recipeComments(r.ID),
	}
	if c, ok := idx.categories[r.CategoryID]; ok {
		recipe.Category = &c
	}
	return recipe
}

// withComments re-attaches comments to already resolved recipes.
func (idx index) withComments(recipes []model.Recipe) []model.Recipe {
	out := make([]model.Recipe, len(recipes))
	for i, r := range recipes {
		out[i] = r
		if r.ID != nil {
			out[i].Comments = idx.recipeComments(*r.ID)
		}
	}
	return out
}

func toBody(r model.Recipe) recipeBody {
	body := recipeBody{
		Title:       r.Title,
		Ingredients: FlattenIngredients(r.Ingredients),
		Description: r.Description,
		Image:       r.Image,
	}
	if r.Category != nil {
		body.CategoryID = r.Category.ID
	}
	return body
}
