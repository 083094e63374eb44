package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/recipes/internal/database"
	"github.com/dukerupert/recipes/internal/model"
	"github.com/dukerupert/recipes/internal/store"
)

// fakeAPI serves the checksum endpoints from in-memory families.
type fakeAPI struct {
	mu        sync.Mutex
	families  map[string]any
	checksums map[string]int
	status    map[string]int
	hits      map[string]int
	queries   map[string][]string
	mux       *http.ServeMux
}

func newFakeAPI() *fakeAPI {
	f := &fakeAPI{
		families: map[string]any{
			"users":      []map[string]any{{"id": 1, "user": "anna", "readOnly": false}},
			"categories": []map[string]any{{"id": 3, "name": "Soups", "userId": 1}},
			"comments":   []map[string]any{{"id": 5, "text": "Lovely", "userId": 1, "recipeId": 10, "date": "2024-01-02 10:00:00"}},
			"recipes": []map[string]any{
				{"id": 10, "title": "Tomato soup", "categoryId": 3, "ingredients": "- Tomatoes\r\n- Salt", "description": "Cook.", "image": "", "date": "2024-01-01 09:00:00", "userId": 1},
				{"id": 11, "title": "Leek soup", "categoryId": 3, "ingredients": "Leek", "description": "", "image": "", "date": "2024-01-01 09:00:00", "userId": 1},
				{"id": 12, "title": "Mystery", "categoryId": 99, "ingredients": "", "description": "", "image": "", "date": "", "userId": 42},
			},
		},
		checksums: map[string]int{"users": 1, "categories": 2, "comments": 3, "recipes": 7},
		status:    map[string]int{},
		hits:      map[string]int{},
		queries:   map[string][]string{},
		mux:       http.NewServeMux(),
	}
	for _, family := range []string{"users", "categories", "comments", "recipes"} {
		f.mux.HandleFunc("GET /api/"+family, f.serveFamily(family))
	}
	f.mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		f.count("status")
		json.NewEncoder(w).Encode(model.UserStatus{Username: "anna", Write: true})
	})
	return f
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mux.ServeHTTP(w, r)
}

func (f *fakeAPI) serveFamily(family string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.hits[family]++
		f.queries[family] = append(f.queries[family], r.URL.RawQuery)
		if code := f.status[family]; code != 0 {
			w.WriteHeader(code)
			return
		}
		sum := strconv.Itoa(f.checksums[family])
		if r.URL.Query().Get("checksum") == sum {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{family: f.families[family], "checksum": f.checksums[family]})
	}
}

func (f *fakeAPI) count(name string) {
	f.mu.Lock()
	f.hits[name]++
	f.mu.Unlock()
}

func (f *fakeAPI) hitCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[name]
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupCache(t *testing.T) *store.CacheStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewCacheStore(db)
}

func setupClient(t *testing.T, handler http.Handler, cache *store.CacheStore) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL}, cache, testLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestFetchDataReplacesAndPersists(t *testing.T) {
	api := newFakeAPI()
	cache := setupCache(t)
	c := setupClient(t, api, cache)

	if err := c.FetchData(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	snap := c.Snapshot()
	if len(snap.Recipes) != 3 {
		t.Fatalf("recipes = %d, want 3", len(snap.Recipes))
	}
	soup := snap.Recipes[0]
	if soup.Category == nil || soup.Category.Name != "Soups" {
		t.Errorf("category = %+v, want Soups", soup.Category)
	}
	if soup.Owner == nil || soup.Owner.Name != "anna" {
		t.Errorf("owner = %+v, want anna", soup.Owner)
	}
	if got := strings.Join(soup.Ingredients, "|"); got != "Tomatoes|Salt" {
		t.Errorf("ingredients = %q, want %q", got, "Tomatoes|Salt")
	}
	if len(soup.Comments) != 1 || soup.Comments[0].Text != "Lovely" {
		t.Errorf("comments = %+v, want one comment", soup.Comments)
	}

	sum, ok, err := cache.Checksum("recipes")
	if err != nil || !ok {
		t.Fatalf("checksum: ok=%v err=%v", ok, err)
	}
	if sum != "7" {
		t.Errorf("checksum = %q, want %q", sum, "7")
	}

	var persisted []model.Recipe
	if found, err := cache.Get(store.KeyRecipes, &persisted); err != nil || !found {
		t.Fatalf("get persisted recipes: found=%v err=%v", found, err)
	}
	if len(persisted) != 3 {
		t.Errorf("persisted recipes = %d, want 3", len(persisted))
	}
}

func TestFetchDataUnresolvedReferences(t *testing.T) {
	c := setupClient(t, newFakeAPI(), setupCache(t))
	if err := c.FetchData(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	r, ok := c.RecipeOnce(12)
	if !ok {
		t.Fatal("recipe 12 not cached")
	}
	if r.Category != nil {
		t.Errorf("category = %+v, want nil", r.Category)
	}
	if r.Owner != nil {
		t.Errorf("owner = %+v, want nil", r.Owner)
	}
	if len(r.Comments) != 0 {
		t.Errorf("comments = %d, want 0", len(r.Comments))
	}
}

func TestFetchDataNoContentKeepsCache(t *testing.T) {
	api := newFakeAPI()
	c := setupClient(t, api, setupCache(t))

	for i := 0; i < 3; i++ {
		if err := c.FetchData(context.Background()); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}

	if got := len(c.Snapshot().Recipes); got != 3 {
		t.Errorf("recipes = %d, want 3", got)
	}
	api.mu.Lock()
	queries := api.queries["recipes"]
	api.mu.Unlock()
	if len(queries) != 3 {
		t.Fatalf("recipe requests = %d, want 3", len(queries))
	}
	if queries[0] != "" {
		t.Errorf("first query = %q, want none", queries[0])
	}
	if queries[2] != "checksum=7" {
		t.Errorf("later query = %q, want %q", queries[2], "checksum=7")
	}
}

func TestFetchDataNoContentLoadsStore(t *testing.T) {
	api := newFakeAPI()
	cache := setupCache(t)
	first := setupClient(t, api, cache)
	if err := first.FetchData(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	// A second client over the same store answers from the snapshot
	// even though every family is unchanged.
	second := setupClient(t, api, cache)
	if err := second.FetchData(context.Background()); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := len(second.Snapshot().Recipes); got != 3 {
		t.Errorf("recipes = %d, want 3", got)
	}
	if got := api.hitCount("recipes"); got != 2 {
		t.Errorf("recipe requests = %d, want 2", got)
	}
}

func TestFetchDataReattachesComments(t *testing.T) {
	api := newFakeAPI()
	c := setupClient(t, api, setupCache(t))
	if err := c.FetchData(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	api.set(func(f *fakeAPI) {
		f.families["comments"] = []map[string]any{
			{"id": 5, "text": "Lovely", "userId": 1, "recipeId": 10, "date": "2024-01-02 10:00:00"},
			{"id": 6, "text": "Too salty", "userId": 1, "recipeId": 10, "date": "2024-01-03 10:00:00", "editedDate": "2024-01-04 10:00:00"},
		}
		f.checksums["comments"] = 4
	})
	if err := c.FetchData(context.Background()); err != nil {
		t.Fatalf("refetch: %v", err)
	}

	r, _ := c.RecipeOnce(10)
	if len(r.Comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(r.Comments))
	}
	if r.Comments[1].Edited == nil {
		t.Error("expected edited date on second comment")
	}
}

func TestFetchDataAbortRefreshesStatus(t *testing.T) {
	api := newFakeAPI()
	api.status["recipes"] = http.StatusUnauthorized
	c := setupClient(t, api, setupCache(t))

	var notified int
	c.hub.Subscribe(func(Snapshot) { notified++ })

	err := c.FetchData(context.Background())
	if !errors.Is(err, ErrSyncAborted) {
		t.Fatalf("err = %v, want ErrSyncAborted", err)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("status error = %v, want code 401", se)
	}
	if got := api.hitCount("status"); got != 1 {
		t.Errorf("status requests = %d, want 1", got)
	}
	if notified != 0 {
		t.Errorf("notifications = %d, want 0", notified)
	}
}

func TestFetchDataNetworkErrorKeepsCache(t *testing.T) {
	api := newFakeAPI()
	server := httptest.NewServer(api)
	c, err := New(Config{BaseURL: server.URL}, setupCache(t), testLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Close()

	if err := c.FetchData(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	server.Close()

	if err := c.FetchData(context.Background()); err == nil {
		t.Fatal("expected error with server down")
	}
	if got := len(c.Snapshot().Recipes); got != 3 {
		t.Errorf("recipes = %d, want 3", got)
	}
}

func TestSubscribe(t *testing.T) {
	api := newFakeAPI()
	c := setupClient(t, api, setupCache(t))

	var mu sync.Mutex
	var order []string
	var lastRecipes int
	record := func(name string) func(Snapshot) {
		return func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			if name == "a" {
				lastRecipes = len(s.Recipes)
			}
		}
	}

	_, unsubA := c.Subscribe(record("a"))
	mu.Lock()
	if len(order) == 0 {
		t.Error("expected synchronous call on subscribe")
	}
	mu.Unlock()
	idB, _ := c.Subscribe(record("b"))
	c.Wait()

	mu.Lock()
	if lastRecipes != 3 {
		t.Errorf("recipes seen = %d, want 3", lastRecipes)
	}
	order = nil
	mu.Unlock()

	c.notify()
	mu.Lock()
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("notify order = %v, want [a b]", order)
	}
	order = nil
	mu.Unlock()

	unsubA()
	unsubA()
	c.Unsubscribe(idB)
	c.Unsubscribe(idB)
	c.notify()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 0 {
		t.Errorf("calls after unsubscribe = %v, want none", order)
	}
}

func TestAddCategory(t *testing.T) {
	api := newFakeAPI()
	var body map[string]string
	api.mux.HandleFunc("POST /api/categories", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"id": 12}`))
	})
	c := setupClient(t, api, setupCache(t))

	cat, err := c.AddCategory(context.Background(), "Desserts")
	if err != nil {
		t.Fatalf("add category: %v", err)
	}
	if cat.ID != 12 || cat.Name != "Desserts" {
		t.Errorf("category = %+v, want {12 Desserts}", cat)
	}
	if body["name"] != "Desserts" {
		t.Errorf("sent name = %q, want %q", body["name"], "Desserts")
	}

	c.Wait()
	if got := api.hitCount("recipes"); got != 1 {
		t.Errorf("refetches = %d, want 1", got)
	}
}

func TestMutationRejected(t *testing.T) {
	api := newFakeAPI()
	api.mux.HandleFunc("POST /api/recipes", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	api.mux.HandleFunc("DELETE /api/recipes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := setupClient(t, api, setupCache(t))

	draft := model.Recipe{Title: "Cake", Category: &model.Category{ID: 3, Name: "Soups"}}
	_, err := c.AddRecipe(context.Background(), draft)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("err = %v, want status 403", err)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}

	err = c.DeleteRecipe(context.Background(), 10)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if !IsRejected(err) {
		t.Error("expected IsRejected")
	}

	c.Wait()
	if got := api.hitCount("recipes"); got != 0 {
		t.Errorf("refetches = %d, want 0", got)
	}
}

func TestAddRecipeValidatesBeforeSending(t *testing.T) {
	api := newFakeAPI()
	api.mux.HandleFunc("POST /api/recipes", func(w http.ResponseWriter, r *http.Request) {
		api.count("post")
	})
	c := setupClient(t, api, setupCache(t))

	tests := []struct {
		name   string
		recipe model.Recipe
	}{
		{"no title", model.Recipe{Title: "  ", Category: &model.Category{ID: 3}}},
		{"no category", model.Recipe{Title: "Cake"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.AddRecipe(context.Background(), tt.recipe)
			if !errors.Is(err, model.ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
	if got := api.hitCount("post"); got != 0 {
		t.Errorf("requests = %d, want 0", got)
	}
}

func TestAddRecipe(t *testing.T) {
	api := newFakeAPI()
	var sent recipeBody
	api.mux.HandleFunc("POST /api/recipes", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&sent)
		w.Write([]byte(`{"id": 44, "title": "Cake"}`))
	})
	c := setupClient(t, api, setupCache(t))

	id, err := c.AddRecipe(context.Background(), model.Recipe{
		Title:       "Cake",
		Category:    &model.Category{ID: 3, Name: "Soups"},
		Ingredients: []string{"Flour: 200g", "", "Sugar"},
	})
	if err != nil {
		t.Fatalf("add recipe: %v", err)
	}
	if id != 44 {
		t.Errorf("id = %d, want 44", id)
	}
	if sent.CategoryID != 3 {
		t.Errorf("categoryId = %d, want 3", sent.CategoryID)
	}
	if sent.Ingredients != "Flour: 200g\nSugar" {
		t.Errorf("ingredients = %q, want %q", sent.Ingredients, "Flour: 200g\nSugar")
	}
}

func TestUpdateRecipeRequiresID(t *testing.T) {
	c := setupClient(t, newFakeAPI(), setupCache(t))
	err := c.UpdateRecipe(context.Background(), model.Recipe{Title: "Cake", Category: &model.Category{ID: 3}})
	if !errors.Is(err, model.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestShareRecipe(t *testing.T) {
	api := newFakeAPI()
	api.mux.HandleFunc("POST /api/uniqueRecipes", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"createdId": "3f1c"}`))
	})
	server := httptest.NewServer(api)
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, PublicURL: "https://recipes.example.com/"}, setupCache(t), testLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Close()

	link, err := c.ShareRecipe(context.Background(), model.Recipe{Title: "Cake"})
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if want := "https://recipes.example.com/uniqueRecipes/3f1c"; link != want {
		t.Errorf("link = %q, want %q", link, want)
	}
}

func TestLoginPersistsSession(t *testing.T) {
	api := newFakeAPI()
	api.mux.HandleFunc("GET /api/login", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "anna" || pass != "hunter22" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
	})
	var sawCookie bool
	api.mux.HandleFunc("GET /api/whoami", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("session")
		sawCookie = err == nil && ck.Value == "abc"
	})
	cache := setupCache(t)
	c := setupClient(t, api, cache)

	err := c.Login(context.Background(), "anna", "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := c.Login(context.Background(), "anna", "hunter22"); err != nil {
		t.Fatalf("login: %v", err)
	}
	c.Wait()
	if s := c.Status(); s == nil || s.Username != "anna" {
		t.Errorf("status = %+v, want anna", s)
	}

	// A fresh client over the same store reuses the session.
	fresh := setupClient(t, api, cache)
	if fresh.Status() == nil {
		t.Error("expected cached status in fresh client")
	}
	resp, err := fresh.do(context.Background(), http.MethodGet, "/api/whoami", nil, nil)
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	drain(resp)
	if !sawCookie {
		t.Error("expected persisted session cookie to be sent")
	}
}

func TestLogoutClearsCaches(t *testing.T) {
	api := newFakeAPI()
	api.mux.HandleFunc("GET /api/logout", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	cache := setupCache(t)
	c := setupClient(t, api, cache)
	if err := c.FetchData(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got := len(c.Snapshot().Recipes); got != 0 {
		t.Errorf("recipes = %d, want 0", got)
	}
	if _, ok, _ := cache.Checksum("recipes"); ok {
		t.Error("expected checksum cleared")
	}
	if found, _ := cache.Get(store.KeyRecipes, &[]model.Recipe{}); found {
		t.Error("expected recipe snapshot cleared")
	}
}

func TestCreateAccountValidates(t *testing.T) {
	api := newFakeAPI()
	api.mux.HandleFunc("POST /api/users", func(w http.ResponseWriter, r *http.Request) {
		api.count("create")
		w.Write([]byte(`{}`))
	})
	c := setupClient(t, api, setupCache(t))

	tests := []struct {
		name     string
		user     string
		password string
		wantErr  bool
	}{
		{"short username", "ab", "longenough", true},
		{"short password", "anna", "short", true},
		{"valid", "anna", "longenough", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.CreateAccount(context.Background(), tt.user, tt.password)
			if tt.wantErr && !errors.Is(err, model.ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
		})
	}
	if got := api.hitCount("create"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestUploadImage(t *testing.T) {
	api := newFakeAPI()
	var got []byte
	api.mux.HandleFunc("POST /api/images", func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("image")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got, _ = io.ReadAll(f)
		w.Write([]byte(`{"name": "abc.jpg"}`))
	})
	c := setupClient(t, api, setupCache(t))

	var sent int64
	name, err := c.UploadImage(context.Background(), "cake.jpg", strings.NewReader("jpegdata"), func(n int64) { sent = n })
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if name != "abc.jpg" {
		t.Errorf("name = %q, want %q", name, "abc.jpg")
	}
	if string(got) != "jpegdata" {
		t.Errorf("uploaded = %q, want %q", got, "jpegdata")
	}
	if sent != int64(len("jpegdata")) {
		t.Errorf("progress = %d, want %d", sent, len("jpegdata"))
	}
}

func TestCommentMutations(t *testing.T) {
	api := newFakeAPI()
	var mu sync.Mutex
	var calls []string
	record := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+" "+strings.TrimSpace(string(body)))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
	api.mux.HandleFunc("POST /api/comments", record)
	api.mux.HandleFunc("PUT /api/comments/{id}", record)
	api.mux.HandleFunc("DELETE /api/comments/{id}", record)
	c := setupClient(t, api, setupCache(t))
	ctx := context.Background()

	if err := c.AddComment(ctx, "Lovely", 10); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if err := c.UpdateComment(ctx, 5, "Even better"); err != nil {
		t.Fatalf("update comment: %v", err)
	}
	if err := c.DeleteComment(ctx, 5); err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	if err := c.AddComment(ctx, " ", 10); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("blank comment err = %v, want ErrInvalid", err)
	}

	want := []string{
		`POST /api/comments {"text":"Lovely","recipeId":10}`,
		`PUT /api/comments/5 {"text":"Even better"}`,
		`DELETE /api/comments/5 `,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != len(want) {
		t.Fatalf("calls = %q, want %q", calls, want)
	}
	for i := range want {
		if strings.TrimSpace(calls[i]) != strings.TrimSpace(want[i]) {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestDeleteImage(t *testing.T) {
	api := newFakeAPI()
	var path string
	api.mux.HandleFunc("DELETE /api/images/{name}", func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	})
	c := setupClient(t, api, setupCache(t))

	if err := c.DeleteImage(context.Background(), "uploads/abc.jpg"); err != nil {
		t.Fatalf("delete image: %v", err)
	}
	if path != "/api/images/abc.jpg" {
		t.Errorf("path = %q, want %q", path, "/api/images/abc.jpg")
	}
}

func TestUniqueRecipe(t *testing.T) {
	api := newFakeAPI()
	api.mux.HandleFunc("GET /api/uniqueRecipes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "3f1c" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"title": "Cake", "description": "Sweet", "ingredients": ["Flour"]}`))
	})
	c := setupClient(t, api, setupCache(t))

	r, err := c.UniqueRecipe(context.Background(), "3f1c")
	if err != nil {
		t.Fatalf("unique recipe: %v", err)
	}
	if r.Title != "Cake" || len(r.Ingredients) != 1 {
		t.Errorf("recipe = %+v", r)
	}

	if _, err := c.UniqueRecipe(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchDataCallerCancel(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	gate := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/users" {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
		}
		api.ServeHTTP(w, r)
	})
	c := setupClient(t, gate, setupCache(t))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- c.FetchData(ctx) }()

	<-entered
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMutationOnlyAcceptsOKAndNoContent(t *testing.T) {
	tests := []struct {
		name string
		code int
		ok   bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"created", http.StatusCreated, false},
		{"accepted", http.StatusAccepted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.mux.HandleFunc("DELETE /api/recipes/{id}", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			})
			c := setupClient(t, api, setupCache(t))

			err := c.DeleteRecipe(context.Background(), 10)
			c.Wait()
			if tt.ok {
				if err != nil {
					t.Errorf("err = %v, want nil", err)
				}
				if got := api.hitCount("recipes"); got != 1 {
					t.Errorf("refetches = %d, want 1", got)
				}
				return
			}
			var se *StatusError
			if !errors.As(err, &se) || se.Code != tt.code {
				t.Errorf("err = %v, want status %d", err, tt.code)
			}
			if got := api.hitCount("recipes"); got != 0 {
				t.Errorf("refetches = %d, want 0", got)
			}
		})
	}
}

func TestFetchDataCoalescesConcurrentCalls(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/users" {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
		}
		api.ServeHTTP(w, r)
	})
	c := setupClient(t, slow, setupCache(t))

	const callers = 5
	var started, wg sync.WaitGroup
	errs := make(chan error, callers)
	started.Add(callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			errs <- c.FetchData(context.Background())
		}()
	}
	started.Wait()
	<-entered
	// Give the remaining callers time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("fetch: %v", err)
		}
	}
	for _, family := range []string{"users", "categories", "comments", "recipes"} {
		if got := api.hitCount(family); got != 1 {
			t.Errorf("%s GETs = %d, want 1", family, got)
		}
	}
	if got := len(c.Snapshot().Recipes); got != 3 {
		t.Errorf("recipes = %d, want 3", got)
	}
}
