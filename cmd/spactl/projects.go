package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

const timeFormat = "2006-01-02 15:04:05"

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage hosted projects",
	}

	cmd.AddCommand(newProjectsUploadCmd())
	cmd.AddCommand(newProjectsListCmd())
	cmd.AddCommand(newProjectsGetCmd())
	cmd.AddCommand(newProjectsRenameCmd())
	cmd.AddCommand(newProjectsStatusCmd())
	cmd.AddCommand(newProjectsRollbackCmd())
	cmd.AddCommand(newProjectsPruneCmd())
	cmd.AddCommand(newProjectsDeleteCmd())
	return cmd
}

// printRaw prints a response body verbatim when --json is set.
func printRaw(body []byte) bool {
	if !flagJSON {
		return false
	}
	var raw json.RawMessage
	json.Unmarshal(body, &raw)
	printJSON(raw)
	return true
}

func newProjectsUploadCmd() *cobra.Command {
	var req UploadRequest

	cmd := &cobra.Command{
		Use:   "upload <archive.zip>",
		Short: "Upload an archive and promote it as the active version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().Upload(args[0], req)
			if err != nil {
				return err
			}
			if printRaw(body) {
				return nil
			}

			var resp UploadResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			switch {
			case resp.Created:
				printMessage(fmt.Sprintf("Project created: %s at version %s", resp.Project.Slug, resp.Project.CurrentVersion))
			case resp.Unchanged:
				printMessage(fmt.Sprintf("Project %s unchanged at version %s", resp.Project.Slug, resp.Project.CurrentVersion))
			default:
				printMessage(fmt.Sprintf("Project %s updated to version %s", resp.Project.Slug, resp.Project.CurrentVersion))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Slug, "slug", "", "Project slug (required)")
	cmd.MarkFlagRequired("slug")
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "Display name")
	cmd.Flags().BoolVar(&req.CreateOnly, "create-only", false, "Fail if the slug already exists")
	return cmd
}

func newProjectsListCmd() *cobra.Command {
	var limit, offset int
	var status, search, order string
	var desc bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}
			if status != "" {
				query.Set("status", status)
			}
			if search != "" {
				query.Set("q", search)
			}
			if order != "" {
				query.Set("order", order)
			}
			if desc {
				query.Set("desc", "true")
			}

			body, err := getClient().Get("/api/v1/projects", query)
			if err != nil {
				return err
			}
			if printRaw(body) {
				return nil
			}

			var resp PaginatedResponse[Project]
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			headers := []string{"SLUG", "NAME", "STATUS", "VERSION", "FILES", "UPDATED AT"}
			var rows [][]string
			for _, p := range resp.Items {
				rows = append(rows, []string{
					p.Slug,
					truncate(p.DisplayName, 40),
					p.Status,
					shortVersion(p.CurrentVersion),
					strconv.Itoa(p.FileCount),
					p.UpdatedAt.Format(timeFormat),
				})
			}
			printTable(headers, rows)
			printMessage(fmt.Sprintf("\nShowing %d of %d projects", len(resp.Items), resp.Total))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset for pagination")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&search, "search", "", "Filter by slug or name substring")
	cmd.Flags().StringVar(&order, "order", "", "Order by name, created or updated")
	cmd.Flags().BoolVar(&desc, "desc", false, "Sort descending")
	return cmd
}

func newProjectsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <slug>",
		Short: "Get a project and its retained versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().Get("/api/v1/projects/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			if printRaw(body) {
				return nil
			}

			var p ProjectResponse
			if err := json.Unmarshal(body, &p); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			promoted := "-"
			if p.PromotedAt != nil {
				promoted = p.PromotedAt.Format(timeFormat)
			}
			printTable([]string{"FIELD", "VALUE"}, [][]string{
				{"Slug", p.Slug},
				{"Name", p.DisplayName},
				{"Status", p.Status},
				{"Version", p.CurrentVersion},
				{"Entry Point", p.EntryPoint},
				{"Size", strconv.FormatInt(p.SizeBytes, 10)},
				{"Files", strconv.Itoa(p.FileCount)},
				{"Promoted At", promoted},
				{"Created At", p.CreatedAt.Format(timeFormat)},
			})

			if len(p.History) > 0 {
				printMessage("")
				var rows [][]string
				for _, h := range p.History {
					rows = append(rows, []string{h.Version, strconv.Itoa(h.FileCount), h.SupersededAt.Format(timeFormat)})
				}
				printTable([]string{"RETAINED VERSION", "FILES", "SUPERSEDED AT"}, rows)
			}
			return nil
		},
	}
}

func newProjectsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <slug> <display name>",
		Short: "Change the display name of a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[1]
			body, err := getClient().Put("/api/v1/projects/"+url.PathEscape(args[0]), UpdateProjectRequest{DisplayName: &name})
			if err != nil {
				return err
			}
			if printRaw(body) {
				return nil
			}

			var p Project
			if err := json.Unmarshal(body, &p); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			printMessage(fmt.Sprintf("Project renamed: %s (%s)", p.DisplayName, p.Slug))
			return nil
		},
	}
}

func newProjectsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "status <slug> <active|inactive>",
		Short:     "Activate or deactivate a project",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"active", "inactive"},
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().Put("/api/v1/projects/"+url.PathEscape(args[0])+"/status", SetStatusRequest{Status: args[1]})
			if err != nil {
				return err
			}
			if printRaw(body) {
				return nil
			}

			var p Project
			if err := json.Unmarshal(body, &p); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			printMessage(fmt.Sprintf("Project %s is now %s", p.Slug, p.Status))
			return nil
		},
	}
}

func newProjectsRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <slug> <version>",
		Short: "Promote a retained version again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().Post("/api/v1/projects/"+url.PathEscape(args[0])+"/rollback", RollbackRequest{Version: args[1]})
			if err != nil {
				return err
			}
			if printRaw(body) {
				return nil
			}

			var p Project
			if err := json.Unmarshal(body, &p); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			printMessage(fmt.Sprintf("Project %s rolled back to version %s", p.Slug, p.CurrentVersion))
			return nil
		},
	}
}

func newProjectsPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune <slug>",
		Short: "Remove retained versions beyond the newest --keep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().Post("/api/v1/projects/"+url.PathEscape(args[0])+"/prune", PruneRequest{Keep: keep})
			if err != nil {
				return err
			}
			if printRaw(body) {
				return nil
			}

			var resp PruneResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			for _, v := range resp.Removed {
				printMessage("removed " + v)
			}
			printMessage(fmt.Sprintf("Pruned %d versions", len(resp.Removed)))
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 0, "Number of retained versions to keep")
	return cmd
}

func newProjectsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <slug>",
		Short: "Delete a project and all its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmAction(fmt.Sprintf("Delete project %s?", args[0]), yes) {
				printMessage("Aborted.")
				return nil
			}

			if _, err := getClient().Delete("/api/v1/projects/" + url.PathEscape(args[0])); err != nil {
				return err
			}

			printMessage("Project deleted successfully.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation")
	return cmd
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <slug>",
		Short: "Show what the server would serve for a slug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().Get("/api/v1/embed/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			if printRaw(body) {
				return nil
			}

			var e EmbedResponse
			if err := json.Unmarshal(body, &e); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			printTable([]string{"FIELD", "VALUE"}, [][]string{
				{"Slug", e.Slug},
				{"Name", e.DisplayName},
				{"Version", e.Version},
				{"Entry Point", e.EntryPointPath},
			})
			return nil
		},
	}
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
