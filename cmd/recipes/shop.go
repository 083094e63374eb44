package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/recipes/internal/model"
	"github.com/dukerupert/recipes/internal/shopping"
)

var shopCmd = &cobra.Command{
	Use:   "shop",
	Short: "Work with shopping lists",
	Long: `Edit the active shopping list. Edits are applied locally, queued and
uploaded in order; while offline they wait in the queue.

Items are referred to by their number in "shop ls" or by an id prefix.`,
}

var shopListCmd = &cobra.Command{
	Use:   "ls",
	Short: "Print the active list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		printList(current.shopping().Snapshot(), all)
		return nil
	},
}

var shopAddCmd = &cobra.Command{
	Use:   "add <item>...",
	Short: "Add items to the active list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := current.shopping()
		if pick, _ := cmd.Flags().GetBool("pick"); pick {
			s.AddPending(args...)
			added, err := s.ResolvePending(cmd.Context(), chooseList)
			return reportAdded(added, err)
		}
		return reportAdded(s.Add(cmd.Context(), args...))
	},
}

var shopCheckCmd = &cobra.Command{
	Use:   "check <item>",
	Short: "Check or uncheck an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := findItem(args[0])
		if err != nil {
			return err
		}
		_, err = current.shopping().Toggle(cmd.Context(), item.ID)
		return uploadResult(err)
	},
}

var shopEditCmd = &cobra.Command{
	Use:   "edit <item> <text>",
	Short: "Change an item's text",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := findItem(args[0])
		if err != nil {
			return err
		}
		item.Text = strings.Join(args[1:], " ")
		_, err = current.shopping().Update(cmd.Context(), item)
		return uploadResult(err)
	},
}

var shopRemoveCmd = &cobra.Command{
	Use:   "rm <item>",
	Short: "Remove an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := findItem(args[0])
		if err != nil {
			return err
		}
		return uploadResult(current.shopping().Remove(cmd.Context(), item.ID))
	},
}

var shopMoveCmd = &cobra.Command{
	Use:   "move <item> <position>",
	Short: "Move an item to a position among the items with its checked state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := findItem(args[0])
		if err != nil {
			return err
		}
		pos, err := strconv.Atoi(args[1])
		if err != nil || pos < 1 {
			return fmt.Errorf("invalid position %q", args[1])
		}
		return uploadResult(current.shopping().Move(cmd.Context(), item.ID, pos-1))
	},
}

var shopClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every item of the active list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return uploadResult(current.shopping().Clear(cmd.Context()))
	},
}

var shopShowCheckedCmd = &cobra.Command{
	Use:       "show-checked <on|off>",
	Short:     "Choose whether ls shows checked items",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "on":
			current.shopping().SetShowChecked(true)
		case "off":
			current.shopping().SetShowChecked(false)
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return nil
	},
}

var shopListsCmd = &cobra.Command{
	Use:   "lists",
	Short: "Show every known list",
	Long:  "Show every known list. Use --sync to add lists the API knows about.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := current.shopping()
		if fresh, _ := cmd.Flags().GetBool("sync"); fresh {
			if err := runBriefly(cmd.Context(), s); err != nil {
				return err
			}
		}
		active := s.Snapshot().State.Active
		for _, l := range s.Lists() {
			marker := " "
			if l.ID == active {
				marker = "*"
			}
			fmt.Printf("%s %s\t%s\n", marker, l.ID, l.Name)
		}
		return nil
	},
}

var shopNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a list and make it active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := current.shopping().CreateList(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created list %s\n", key)
		return nil
	},
}

var shopOpenCmd = &cobra.Command{
	Use:   "open <key> <name>",
	Short: "Join a list shared with you and make it active",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.shopping().OpenList(cmd.Context(), args[0], strings.Join(args[1:], " "))
	},
}

var shopUseCmd = &cobra.Command{
	Use:   "use <key>",
	Short: "Make a list active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.shopping().SelectList(args[0])
	},
}

var shopDropCmd = &cobra.Command{
	Use:   "drop <key>",
	Short: "Forget a list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.shopping().DeleteList(cmd.Context(), args[0])
	},
}

var shopRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resend queued uploads after the API rejected one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := current.shopping()
		if err := s.Retry(cmd.Context()); err != nil {
			return err
		}
		n, err := s.Queued()
		if err != nil {
			return err
		}
		fmt.Printf("%s, %d upload(s) queued\n", s.Snapshot().Sync, n)
		return nil
	},
}

var shopWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the active list live until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := current.shopping()
		all, _ := cmd.Flags().GetBool("all")
		_, unsubscribe := s.Subscribe(func(snap shopping.Snapshot) {
			fmt.Print("\033[H\033[2J")
			printList(snap, all)
		})
		defer unsubscribe()

		err := s.Run(cmd.Context())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

const briefTimeout = 15 * time.Second

// runBriefly runs the syncer until its first stream snapshot arrives, so
// one-shot commands can see the API's lists.
func runBriefly(ctx context.Context, s *shopping.Syncer) error {
	ctx, cancel := context.WithTimeout(ctx, briefTimeout)
	defer cancel()

	_, unsubscribe := s.Subscribe(func(snap shopping.Snapshot) {
		if snap.Sync == shopping.StateSynced || snap.Sync == shopping.StateFailed {
			cancel()
		}
	})
	defer unsubscribe()

	err := s.Run(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("no answer from the API within %s", briefTimeout)
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// uploadResult turns a rejected upload into advice. Local edits are kept
// either way.
func uploadResult(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shopping.ErrUnknownItem) || errors.Is(err, shopping.ErrUnknownList) {
		return err
	}
	return fmt.Errorf("saved locally, upload failed (try: recipes shop retry): %w", err)
}

func reportAdded(added []model.ShoppingItem, err error) error {
	for _, item := range added {
		fmt.Printf("Added %s\n", item.Text)
	}
	return uploadResult(err)
}

// findItem resolves a 1-based number from "shop ls" or an id prefix.
func findItem(ref string) (model.ShoppingItem, error) {
	unchecked, checked := current.shopping().Items()
	items := append(unchecked, checked...)
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(items) {
			return model.ShoppingItem{}, fmt.Errorf("item %d: %w", n, shopping.ErrUnknownItem)
		}
		return items[n-1], nil
	}
	var match *model.ShoppingItem
	for i := range items {
		if strings.HasPrefix(items[i].ID, ref) {
			if match != nil {
				return model.ShoppingItem{}, fmt.Errorf("item %q is ambiguous", ref)
			}
			match = &items[i]
		}
	}
	if match == nil {
		return model.ShoppingItem{}, fmt.Errorf("item %q: %w", ref, shopping.ErrUnknownItem)
	}
	return *match, nil
}

// chooseList asks on the terminal which list pending items go to.
func chooseList(lists []model.ListInfo) (string, bool) {
	for i, l := range lists {
		fmt.Printf("%d) %s\n", i+1, l.Name)
	}
	fmt.Print("Add to list (empty to discard): ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(lists) {
		return "", false
	}
	return lists[n-1].ID, true
}

func printList(snap shopping.Snapshot, all bool) {
	state := snap.State
	list, ok := state.Lists[state.Active]
	if !ok {
		fmt.Println("No active list")
		return
	}
	fmt.Printf("%s [%s]\n", list.Name, snap.Sync)

	var unchecked, checked []model.ShoppingItem
	for _, item := range list.Items {
		if item.Checked {
			checked = append(checked, item)
		} else {
			unchecked = append(unchecked, item)
		}
	}
	sortByPosition(unchecked)
	sortByPosition(checked)

	n := 0
	for _, item := range unchecked {
		n++
		fmt.Printf("%3d [ ] %s\n", n, item.Text)
	}
	if !all && !state.ShowChecked {
		if len(checked) > 0 {
			fmt.Printf("    (%d checked)\n", len(checked))
		}
		return
	}
	for _, item := range checked {
		n++
		fmt.Printf("%3d [x] %s\n", n, item.Text)
	}
}

func init() {
	shopListCmd.Flags().Bool("all", false, "include checked items")
	shopWatchCmd.Flags().Bool("all", false, "include checked items")
	shopAddCmd.Flags().Bool("pick", false, "ask which list the items go to")
	shopListsCmd.Flags().Bool("sync", false, "fetch the API's lists first")

	shopCmd.AddCommand(shopListCmd, shopAddCmd, shopCheckCmd, shopEditCmd, shopRemoveCmd,
		shopMoveCmd, shopClearCmd, shopShowCheckedCmd, shopListsCmd, shopNewCmd,
		shopOpenCmd, shopUseCmd, shopDropCmd, shopRetryCmd, shopWatchCmd)
	rootCmd.AddCommand(shopCmd)
}

func sortByPosition(items []model.ShoppingItem) {
	slices.SortStableFunc(items, func(a, b model.ShoppingItem) int {
		return a.Position - b.Position
	})
}
