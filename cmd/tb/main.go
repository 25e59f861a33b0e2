package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"todobook/internal/app"
	"todobook/internal/config"
	"todobook/internal/db"
	"todobook/internal/domain"
	"todobook/internal/engine"
	"todobook/internal/migrate"
	"todobook/internal/repo"
	"todobook/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "TodoBook CLI",
	Long: `TodoBook manages shared task books: books hold tasks, tasks hold
subtasks and comments, and short share codes let others import a copy.
The workspace keeps its data in .todobook/todobook.db; todobook.yml in
the workspace root tunes limits, palette, and webhooks.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TODOBOOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(bookCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default todobook.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func bookCmd() *cobra.Command {
	book := &cobra.Command{
		Use:   "book",
		Short: "Manage todo books",
		Long:  "Books hold tasks and members. The creator controls sharing, archiving, and deletion; members add and complete tasks.",
	}
	book.AddCommand(bookCreateCmd())
	book.AddCommand(bookListCmd())
	book.AddCommand(bookShowCmd())
	book.AddCommand(bookUpdateCmd())
	book.AddCommand(bookArchiveCmd())
	book.AddCommand(bookUnarchiveCmd())
	book.AddCommand(bookDeleteCmd())
	book.AddCommand(bookLeaveCmd())
	return book
}

func bookCreateCmd() *cobra.Command {
	var title, description, color, icon string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a book",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				b, err := e.CreateBook(ctx, engine.BookCreateOptions{
					Title:       title,
					Description: description,
					Color:       color,
					Icon:        icon,
					ActorID:     userID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "book title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	cmd.Flags().StringVar(&icon, "icon", "", "display icon")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func bookListCmd() *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				items, err := e.ListBooks(ctx, userID, includeArchived)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Title", "Tasks", "Done", "Members", "Archived"})
				for _, b := range items {
					t.AppendRow(table.Row{b.ID, b.Title, b.ItemCount, b.CompletedCount, b.MemberCount, b.IsArchived})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "archived", false, "include archived books")
	return cmd
}

func bookShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show book detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				b, err := e.GetBookDetail(ctx, args[0], userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func bookUpdateCmd() *cobra.Command {
	var title, description, color, icon string
	cmd := &cobra.Command{
		Use:   "update <book-id>",
		Short: "Update a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				opts := engine.BookUpdateOptions{ActorID: userID}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("color") {
					opts.Color = &color
				}
				if cmd.Flags().Changed("icon") {
					opts.Icon = &icon
				}
				b, err := e.UpdateBook(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "book title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	cmd.Flags().StringVar(&icon, "icon", "", "display icon")
	return cmd
}

func bookArchiveCmd() *cobra.Command {
	return setArchivedCmd("archive", "Archive a book", true)
}

func bookUnarchiveCmd() *cobra.Command {
	return setArchivedCmd("unarchive", "Unarchive a book", false)
}

func setArchivedCmd(use, short string, archived bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <book-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				b, err := e.UpdateBook(ctx, args[0], engine.BookUpdateOptions{Archived: &archived, ActorID: userID})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func bookDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.DeleteBook(ctx, args[0], userID)
			})
		},
	}
}

func bookLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <book-id>",
		Short: "Leave a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.LeaveBook(ctx, args[0], userID)
			})
		},
	}
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage book members"}
	member.AddCommand(memberAddCmd())
	member.AddCommand(memberListCmd())
	member.AddCommand(memberRemoveCmd())
	return member
}

func memberAddCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "add <book-id>",
		Short: "Add a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				m, err := e.AddMember(ctx, args[0], user, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to add")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <book-id>",
		Short: "List members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				items, err := e.ListMembers(ctx, args[0], userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func memberRemoveCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "remove <book-id>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.RemoveMember(ctx, args[0], user, userID)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to remove")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks live in a book and may carry one level of subtasks. Completing a parent requires completed subtasks; reopening a subtask reopens its parent.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskReopenCmd())
	task.AddCommand(taskMoveCmd())
	return task
}

func parseTagFlags(refs, labels []string) []domain.Tag {
	var tags []domain.Tag
	for _, id := range refs {
		tags = append(tags, domain.Tag{Kind: domain.TagKindRef, TagID: id})
	}
	for _, l := range labels {
		tags = append(tags, domain.Tag{Kind: domain.TagKindLabel, Label: l})
	}
	return tags
}

func taskCreateCmd() *cobra.Command {
	var bookID, parentID, title, description, priority, dueDate string
	var tagRefs, tagLabels []string
	var estimatedHours, budget float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				opts := engine.TaskCreateOptions{
					BookID:      bookID,
					ParentID:    parentID,
					Title:       title,
					Description: description,
					Priority:    priority,
					DueDate:     dueDate,
					Tags:        parseTagFlags(tagRefs, tagLabels),
					ActorID:     userID,
				}
				if cmd.Flags().Changed("estimated-hours") {
					opts.EstimatedHours = &estimatedHours
				}
				if cmd.Flags().Changed("budget") {
					opts.Budget = &budget
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "book id")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, high or urgent")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().StringSliceVar(&tagRefs, "tag-id", nil, "shared tag ids")
	cmd.Flags().StringSliceVar(&tagLabels, "tag", nil, "inline tag labels")
	cmd.Flags().Float64Var(&estimatedHours, "estimated-hours", 0, "estimated hours")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	_ = cmd.MarkFlagRequired("book")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var bookID, status, keyword, tag, sort, order string
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in a book",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				filters := repo.TaskFilters{
					Status:   status,
					Keyword:  keyword,
					Tag:      tag,
					SortBy:   sort,
					SortDesc: order == "desc",
					Page:     page,
					PageSize: pageSize,
				}
				result, err := e.ListTasks(ctx, bookID, filters, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Due", "Tags", "Subtasks"})
				for _, task := range result.Tasks {
					var tagNames []string
					for _, tg := range task.Tags {
						tagNames = append(tagNames, tg.Display())
					}
					due := ""
					if task.DueDate != nil {
						due = *task.DueDate
					}
					t.AppendRow(table.Row{task.ID, task.Title, task.Status, task.Priority, due, strings.Join(tagNames, ","), len(task.Subtasks)})
				}
				t.Render()
				if result.Total >= 0 {
					fmt.Printf("Page %d (%d per page), %d total\n", result.Page, result.PageSize, result.Total)
				} else {
					fmt.Printf("Page %d (%d per page)\n", result.Page, result.PageSize)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "book id")
	cmd.Flags().StringVar(&status, "status", "all", "all, todo or completed")
	cmd.Flags().StringVar(&keyword, "keyword", "", "search in title and description")
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	cmd.Flags().StringVar(&sort, "sort", "", "created_at, updated_at, due_date, priority or tags")
	cmd.Flags().StringVar(&order, "order", "asc", "asc or desc")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show task detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				t, err := e.GetTaskDetail(ctx, args[0], userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, priority, dueDate string
	var tagRefs, tagLabels []string
	var estimatedHours, budget, actualCost float64
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				opts := engine.TaskUpdateOptions{ActorID: userID}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				if cmd.Flags().Changed("due") {
					opts.DueDate = &dueDate
				}
				if cmd.Flags().Changed("tag-id") || cmd.Flags().Changed("tag") {
					opts.TagsSet = true
					opts.Tags = parseTagFlags(tagRefs, tagLabels)
				}
				if cmd.Flags().Changed("estimated-hours") {
					opts.EstimatedHours = &estimatedHours
				}
				if cmd.Flags().Changed("budget") {
					opts.Budget = &budget
				}
				if cmd.Flags().Changed("actual-cost") {
					opts.ActualCost = &actualCost
				}
				t, err := e.UpdateTask(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, high or urgent")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339), empty clears")
	cmd.Flags().StringSliceVar(&tagRefs, "tag-id", nil, "shared tag ids")
	cmd.Flags().StringSliceVar(&tagLabels, "tag", nil, "inline tag labels")
	cmd.Flags().Float64Var(&estimatedHours, "estimated-hours", 0, "estimated hours")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	cmd.Flags().Float64Var(&actualCost, "actual-cost", 0, "actual cost")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.DeleteTask(ctx, args[0], userID)
			})
		},
	}
}

func taskDoneCmd() *cobra.Command {
	return setStatusCmd("done", domain.TaskStatusCompleted, "Complete a task")
}

func taskReopenCmd() *cobra.Command {
	return setStatusCmd("reopen", domain.TaskStatusTodo, "Reopen a task")
}

func setStatusCmd(use, status, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				t, err := e.SetTaskStatus(ctx, args[0], status, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskMoveCmd() *cobra.Command {
	var position int
	cmd := &cobra.Command{
		Use:   "move <task-id>",
		Short: "Move a task among its siblings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.ReorderTask(ctx, args[0], position, userID)
			})
		},
	}
	cmd.Flags().IntVar(&position, "position", 0, "target position, zero-based")
	_ = cmd.MarkFlagRequired("position")
	return cmd
}

func commentCmd() *cobra.Command {
	comment := &cobra.Command{Use: "comment", Short: "Manage task comments"}
	comment.AddCommand(commentAddCmd())
	comment.AddCommand(commentListCmd())
	comment.AddCommand(commentUpdateCmd())
	comment.AddCommand(commentDeleteCmd())
	return comment
}

func commentAddCmd() *cobra.Command {
	var content, replyTo string
	cmd := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				c, err := e.AddComment(ctx, args[0], content, replyTo, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "comment text")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "comment id to reply to")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func commentListCmd() *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				result, err := e.ListComments(ctx, args[0], page, pageSize, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size")
	return cmd
}

func commentUpdateCmd() *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "update <comment-id>",
		Short: "Edit a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				c, err := e.UpdateComment(ctx, args[0], content, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "comment text")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func commentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <comment-id>",
		Short: "Delete a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.DeleteComment(ctx, args[0], userID)
			})
		},
	}
}

func shareCmd() *cobra.Command {
	share := &cobra.Command{
		Use:   "share",
		Short: "Share books and import copies",
		Long:  "Sharing mints a 6-character code for a book. Anyone with the code can preview the book and import an independent copy of it.",
	}
	share.AddCommand(shareCreateCmd())
	share.AddCommand(shareListCmd())
	share.AddCommand(sharePreviewCmd())
	share.AddCommand(shareImportCmd())
	share.AddCommand(shareDeleteCmd())
	return share
}

func shareCreateCmd() *cobra.Command {
	var includeComments bool
	cmd := &cobra.Command{
		Use:   "create <book-id>",
		Short: "Share a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				s, err := e.CreateShare(ctx, args[0], includeComments, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().BoolVar(&includeComments, "with-comments", false, "include comments in imports")
	return cmd
}

func shareListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List my shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				items, err := e.ListShares(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func sharePreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <code>",
		Short: "Preview a shared book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				p, err := e.GetSharePreview(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func shareImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <code>",
		Short: "Import a shared book as a copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				b, err := e.ImportByCode(ctx, args[0], userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func shareDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <code>",
		Short: "Delete a share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.DeleteShare(ctx, args[0], userID)
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				k, raw, err := e.CreateAPIKey(ctx, userID, name)
				if err != nil {
					return err
				}
				out := map[string]any{"id": k.ID, "user_id": k.UserID, "name": k.Name, "key": raw, "created_at": k.CreatedAt}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				items, err := e.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened in a book: task changes, membership moves, shares, and imports.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var bookID string
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail book events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				events, err := e.ListBookEvents(ctx, bookID, n, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "book id")
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			_, cfg, err := app.ResolveUserAndConfig(workspace, viper.GetString("user-id"))
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			secret := os.Getenv("TODOBOOK_JWT_SECRET")
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" && !allowLegacyHeader {
				return fmt.Errorf("TODOBOOK_JWT_SECRET is required for bearer auth (or pass --allow-legacy-header)")
			}
			authCfg := server.AuthConfig{JWTSecret: secret, AllowLegacyUserHeader: allowLegacyHeader}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving TodoBook API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-header", false, "accept X-User-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	userID, cfg, err := app.ResolveUserAndConfig(workspace, viper.GetString("user-id"))
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e, userID)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
