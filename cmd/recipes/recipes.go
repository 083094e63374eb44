package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/recipes/internal/model"
	"github.com/dukerupert/recipes/internal/recipes"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the local cache with the API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.client.FetchData(cmd.Context()); err != nil {
			if errors.Is(err, recipes.ErrUnauthorized) {
				return fmt.Errorf("%w (try: recipes login)", err)
			}
			return err
		}
		snap := current.client.Snapshot()
		fmt.Printf("%d recipes, %d categories, %d users\n", len(snap.Recipes), len(snap.Categories), len(snap.Users))
		return nil
	},
}

var recipesCmd = &cobra.Command{
	Use:     "recipes",
	Aliases: []string{"ls"},
	Short:   "List cached recipes",
	Long: `List recipes from the local cache. Use --sync to reconcile with the
API first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if fresh, _ := cmd.Flags().GetBool("sync"); fresh {
			if err := current.client.FetchData(cmd.Context()); err != nil {
				fmt.Fprintf(os.Stderr, "sync failed, showing cached data: %v\n", err)
			}
		}
		category, _ := cmd.Flags().GetString("category")

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tBY")
		for _, r := range current.client.Snapshot().Recipes {
			cat := ""
			if r.Category != nil {
				cat = r.Category.Name
			}
			if category != "" && !strings.EqualFold(cat, category) {
				continue
			}
			owner := ""
			if r.Owner != nil {
				owner = r.Owner.Name
			}
			var id int64
			if r.ID != nil {
				id = *r.ID
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", id, r.Title, cat, owner)
		}
		return w.Flush()
	},
}

var recipeCmd = &cobra.Command{
	Use:   "recipe",
	Short: "Show and edit recipes",
}

var recipeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a recipe with its comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := cachedRecipe(args[0])
		if err != nil {
			return err
		}
		printRecipe(r)
		return nil
	},
}

var recipeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a recipe",
	Example: `  recipes recipe add --title "Tomato soup" --category Soups \
    --ingredient "1 kg tomatoes" --ingredient "1 onion" --image soup.jpg`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := model.Recipe{}
		if err := applyRecipeFlags(cmd, &r); err != nil {
			return err
		}
		id, err := current.client.AddRecipe(cmd.Context(), r)
		if err != nil {
			return err
		}
		current.client.Wait()
		fmt.Printf("Created recipe %d\n", id)
		return nil
	},
}

var recipeEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change a recipe; unset flags keep their value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := cachedRecipe(args[0])
		if err != nil {
			return err
		}
		if err := applyRecipeFlags(cmd, &r); err != nil {
			return err
		}
		if err := current.client.UpdateRecipe(cmd.Context(), r); err != nil {
			return err
		}
		current.client.Wait()
		fmt.Printf("Updated recipe %d\n", *r.ID)
		return nil
	},
}

var recipeDeleteCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid recipe id %q", args[0])
		}
		if err := current.client.DeleteRecipe(cmd.Context(), id); err != nil {
			return err
		}
		current.client.Wait()
		fmt.Printf("Deleted recipe %d\n", id)
		return nil
	},
}

var recipeShareCmd = &cobra.Command{
	Use:   "share <id>",
	Short: "Publish a frozen copy of a recipe and print its link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := cachedRecipe(args[0])
		if err != nil {
			return err
		}
		link, err := current.client.ShareRecipe(cmd.Context(), r)
		if err != nil {
			return err
		}
		fmt.Println(link)
		return nil
	},
}

var sharedCmd = &cobra.Command{
	Use:   "shared <share-id>",
	Short: "Print a shared recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := current.client.UniqueRecipe(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printRecipe(r)
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Add, change and delete comments",
}

var commentAddCmd = &cobra.Command{
	Use:   "add <recipe-id> <text>",
	Short: "Comment on a recipe",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid recipe id %q", args[0])
		}
		if err := current.client.AddComment(cmd.Context(), strings.Join(args[1:], " "), id); err != nil {
			return err
		}
		current.client.Wait()
		return nil
	},
}

var commentEditCmd = &cobra.Command{
	Use:   "edit <comment-id> <text>",
	Short: "Change a comment",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid comment id %q", args[0])
		}
		if err := current.client.UpdateComment(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		current.client.Wait()
		return nil
	},
}

var commentDeleteCmd = &cobra.Command{
	Use:   "rm <comment-id>",
	Short: "Delete a comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid comment id %q", args[0])
		}
		if err := current.client.DeleteComment(cmd.Context(), id); err != nil {
			return err
		}
		current.client.Wait()
		return nil
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List cached categories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, c := range current.client.Snapshot().Categories {
			fmt.Printf("%d\t%s\n", c.ID, c.Name)
		}
		return nil
	},
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := current.client.AddCategory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		current.client.Wait()
		fmt.Printf("Created category %d %s\n", c.ID, c.Name)
		return nil
	},
}

var imageDeleteCmd = &cobra.Command{
	Use:   "rm-image <name>",
	Short: "Delete an uploaded image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.client.DeleteImage(cmd.Context(), args[0])
	},
}

func cachedRecipe(arg string) (model.Recipe, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return model.Recipe{}, fmt.Errorf("invalid recipe id %q", arg)
	}
	r, ok := current.client.RecipeOnce(id)
	if !ok {
		return model.Recipe{}, fmt.Errorf("recipe %d: %w (try: recipes sync)", id, recipes.ErrNotFound)
	}
	return r, nil
}

func findCategory(name string) (*model.Category, error) {
	for _, c := range current.client.Snapshot().Categories {
		if strings.EqualFold(c.Name, name) {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("category %q: %w", name, recipes.ErrNotFound)
}

// applyRecipeFlags copies the flags the user set onto r. An --image path
// is uploaded first and replaced by the stored image's name.
func applyRecipeFlags(cmd *cobra.Command, r *model.Recipe) error {
	flags := cmd.Flags()
	if flags.Changed("title") {
		r.Title, _ = flags.GetString("title")
	}
	if flags.Changed("description") {
		r.Description, _ = flags.GetString("description")
	}
	if flags.Changed("ingredient") {
		r.Ingredients, _ = flags.GetStringArray("ingredient")
	}
	if flags.Changed("category") {
		name, _ := flags.GetString("category")
		c, err := findCategory(name)
		if err != nil {
			return err
		}
		r.Category = c
	}
	if flags.Changed("image") {
		path, _ := flags.GetString("image")
		name, err := uploadImage(cmd, path)
		if err != nil {
			return err
		}
		r.Image = name
	}
	return nil
}

func uploadImage(cmd *cobra.Command, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	name, err := current.client.UploadImage(cmd.Context(), filepath.Base(path), f, func(sent int64) {
		if size > 0 {
			fmt.Fprintf(os.Stderr, "\rUploading %s: %3d%%", filepath.Base(path), sent*100/size)
		}
	})
	if size > 0 {
		fmt.Fprintln(os.Stderr)
	}
	return name, err
}

func printRecipe(r model.Recipe) {
	fmt.Println(r.Title)
	if r.Category != nil {
		fmt.Printf("Category: %s\n", r.Category.Name)
	}
	if r.Owner != nil {
		fmt.Printf("By: %s\n", r.Owner.Name)
	}
	if len(r.Ingredients) > 0 {
		fmt.Println("\nIngredients:")
		for _, line := range r.Ingredients {
			fmt.Printf("  - %s\n", line)
		}
	}
	if r.Description != "" {
		fmt.Printf("\n%s\n", r.Description)
	}
	if len(r.Comments) > 0 {
		fmt.Println("\nComments:")
		for _, c := range r.Comments {
			author := "?"
			if c.Author != nil {
				author = c.Author.Name
			}
			fmt.Printf("  [%d] %s (%s): %s\n", c.ID, author, c.Date.Format("2006-01-02"), c.Text)
		}
	}
}

func init() {
	recipesCmd.Flags().Bool("sync", false, "reconcile with the API before listing")
	recipesCmd.Flags().String("category", "", "only show recipes in this category")

	for _, c := range []*cobra.Command{recipeAddCmd, recipeEditCmd} {
		c.Flags().String("title", "", "recipe title")
		c.Flags().String("category", "", "category name")
		c.Flags().String("description", "", "preparation text")
		c.Flags().StringArray("ingredient", nil, "ingredient line (repeatable)")
		c.Flags().String("image", "", "image file to upload")
	}

	recipeCmd.AddCommand(recipeShowCmd, recipeAddCmd, recipeEditCmd, recipeDeleteCmd, recipeShareCmd, imageDeleteCmd)
	commentCmd.AddCommand(commentAddCmd, commentEditCmd, commentDeleteCmd)
	categoriesCmd.AddCommand(categoryAddCmd)
	rootCmd.AddCommand(syncCmd, recipesCmd, recipeCmd, sharedCmd, commentCmd, categoriesCmd)
}
