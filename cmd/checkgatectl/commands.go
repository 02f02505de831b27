package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/checkgate/internal/application"
	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// --- checker ---

func newCheckerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "checker", Short: "Manage checkers"}

	var scheme string
	list := &cobra.Command{
		Use:   "list",
		Short: "List checkers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			checkers, err := a.checkers.List(cmd.Context(), scheme)
			if err != nil {
				return err
			}
			views := make([]checkerView, 0, len(checkers))
			for _, c := range checkers {
				views = append(views, toCheckerView(c))
			}
			return a.print(views)
		},
	}
	list.Flags().StringVar(&scheme, "scheme", "", "only list checkers of this scheme")

	get := &cobra.Command{
		Use:   "get UUID",
		Short: "Show a checker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.checkers.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(toCheckerView(*c))
		},
	}

	create := &cobra.Command{
		Use:   "create UUID",
		Short: "Create a checker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := checkerUpdateFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := a.checkers.Create(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}
			return a.print(toCheckerView(*c))
		},
	}
	addCheckerFlags(create)

	update := &cobra.Command{
		Use:   "update UUID",
		Short: "Update the flagged properties of a checker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := checkerUpdateFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := a.checkers.Update(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}
			return a.print(toCheckerView(*c))
		},
	}
	addCheckerFlags(update)

	del := &cobra.Command{
		Use:   "delete UUID",
		Short: "Delete a checker's ref; prefer disabling it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.checkers.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(a.out, "deleted %s\n", args[0])
			return err
		},
	}

	cmd.AddCommand(list, get, create, update, del)
	return cmd
}

func addCheckerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("name", "", "display name")
	f.String("description", "", "description; empty unsets it")
	f.String("url", "", "http(s) URL; empty unsets it")
	f.String("repository", "", "repository the checker applies to")
	f.String("status", "", "ENABLED or DISABLED")
	f.StringSlice("blocking", nil, "blocking conditions, e.g. STATE_NOT_PASSING; empty makes the checker optional")
	f.String("query", "", "change search restricting relevant changes")
}

// checkerUpdateFromFlags builds an update from the flags the user set.
func checkerUpdateFromFlags(cmd *cobra.Command) (model.CheckerUpdate, error) {
	f := cmd.Flags()
	var u model.CheckerUpdate

	str := func(name string, dst **string) {
		if f.Changed(name) {
			v, _ := f.GetString(name)
			*dst = &v
		}
	}
	str("name", &u.Name)
	str("description", &u.Description)
	str("url", &u.URL)
	str("repository", &u.Repository)
	str("query", &u.Query)

	if f.Changed("status") {
		raw, _ := f.GetString("status")
		status, ok := model.ParseCheckerStatus(raw)
		if !ok {
			return u, fmt.Errorf("invalid status %q", raw)
		}
		u.Status = &status
	}
	if f.Changed("blocking") {
		raw, _ := f.GetStringSlice("blocking")
		bcs := make([]model.BlockingCondition, 0, len(raw))
		for _, s := range raw {
			if strings.TrimSpace(s) == "" {
				continue
			}
			bc, ok := model.ParseBlockingCondition(s)
			if !ok {
				return u, fmt.Errorf("invalid blocking condition %q", s)
			}
			bcs = append(bcs, bc)
		}
		u.BlockingConditions = &bcs
	}
	return u, nil
}

// --- check ---

func newCheckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "check", Short: "Read and write checks of a patch set"}

	var noBackfill bool
	list := &cobra.Command{
		Use:   "list REPO CHANGE PATCHSET",
		Short: "List the checks of a patch set",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ps, err := parsePatchSet(args)
			if err != nil {
				return err
			}
			details, err := a.checkSvc.GetCheckDetails(cmd.Context(), repo, ps,
				application.GetChecksOptions{Backfill: !noBackfill})
			if err != nil {
				return err
			}
			views := make([]checkView, 0, len(details))
			for _, d := range details {
				views = append(views, toCheckDetailView(d))
			}
			return a.print(views)
		},
	}
	list.Flags().BoolVar(&noBackfill, "no-backfill", false, "only list stored checks")

	post := &cobra.Command{
		Use:   "post REPO CHANGE PATCHSET CHECKER",
		Short: "Create or update a check",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ps, err := parsePatchSet(args)
			if err != nil {
				return err
			}
			update, err := checkUpdateFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := a.checkSvc.PostCheck(cmd.Context(), repo, ps, args[3], update)
			if err != nil {
				return err
			}
			return a.print(toCheckView(*c))
		},
	}
	post.Flags().String("state", "", "check state, e.g. RUNNING or SUCCESSFUL")
	post.Flags().String("message", "", "short result message; empty clears it")
	post.Flags().String("url", "", "http(s) URL of the run; empty clears it")
	post.Flags().String("started", "", "RFC 3339 start time; empty clears it")
	post.Flags().String("finished", "", "RFC 3339 finish time; empty clears it")

	rerun := &cobra.Command{
		Use:   "rerun REPO CHANGE PATCHSET CHECKER",
		Short: "Reset a check to NOT_STARTED",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ps, err := parsePatchSet(args)
			if err != nil {
				return err
			}
			c, err := a.checkSvc.RerunCheck(cmd.Context(), repo, ps, args[3])
			if err != nil {
				return err
			}
			return a.print(toCheckView(*c))
		},
	}

	var overrider, reason string
	override := &cobra.Command{
		Use:   "override REPO CHANGE PATCHSET CHECKER",
		Short: "Waive a check",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ps, err := parsePatchSet(args)
			if err != nil {
				return err
			}
			c, err := a.checkSvc.OverrideCheck(cmd.Context(), repo, ps, args[3], overrider, reason)
			if err != nil {
				return err
			}
			return a.print(toCheckView(*c))
		},
	}
	override.Flags().StringVar(&overrider, "overrider", "", "identity waiving the check")
	override.Flags().StringVar(&reason, "reason", "", "why the check is waived")
	_ = override.MarkFlagRequired("overrider")
	_ = override.MarkFlagRequired("reason")

	cmd.AddCommand(list, post, rerun, override)
	return cmd
}

func checkUpdateFromFlags(cmd *cobra.Command) (model.CheckUpdate, error) {
	f := cmd.Flags()
	var u model.CheckUpdate

	if f.Changed("state") {
		raw, _ := f.GetString("state")
		state, ok := model.ParseCheckState(raw)
		if !ok {
			return u, fmt.Errorf("invalid state %q", raw)
		}
		u.State = &state
	}
	if f.Changed("message") {
		v, _ := f.GetString("message")
		u.Message = &v
	}
	if f.Changed("url") {
		v, _ := f.GetString("url")
		u.URL = &v
	}
	for _, name := range []string{"started", "finished"} {
		if !f.Changed(name) {
			continue
		}
		raw, _ := f.GetString(name)
		var t time.Time
		if raw != "" {
			var err error
			if t, err = time.Parse(time.RFC3339, raw); err != nil {
				return u, fmt.Errorf("invalid %s time %q: %w", name, raw, err)
			}
		}
		if name == "started" {
			u.Started = &t
		} else {
			u.Finished = &t
		}
	}
	return u, nil
}

// --- change ---

func newChangeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "change", Short: "Maintain the mirrored change index"}

	var owner, branch, subject, status, revision string
	upsert := &cobra.Command{
		Use:   "upsert REPO CHANGE",
		Short: "Create or update a change; --revision adds patch set 1",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parsePositive("change", args[1])
			if err != nil {
				return err
			}
			switch model.ChangeStatus(status) {
			case model.ChangeStatusOpen, model.ChangeStatusMerged, model.ChangeStatusAbandoned:
			default:
				return fmt.Errorf("invalid status %q", status)
			}
			c := model.Change{
				Repository: args[0],
				Number:     number,
				Status:     model.ChangeStatus(status),
				Owner:      owner,
				Branch:     branch,
				Subject:    subject,
				Updated:    time.Now(),
			}
			if revision != "" {
				c.CurrentPatchSet = model.PatchSet{
					ID:       model.PatchSetID{Change: number, Number: 1},
					Revision: revision,
					Created:  time.Now(),
				}
			}
			if err := a.changes.UpsertChange(cmd.Context(), c); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "upserted %s/%d\n", c.Repository, c.Number)
			return err
		},
	}
	upsert.Flags().StringVar(&owner, "owner", "", "change owner")
	upsert.Flags().StringVar(&branch, "branch", "main", "target branch")
	upsert.Flags().StringVar(&subject, "subject", "", "change subject")
	upsert.Flags().StringVar(&status, "status", string(model.ChangeStatusOpen), "open, merged or abandoned")
	upsert.Flags().StringVar(&revision, "revision", "", "commit id of patch set 1")

	addPatchSet := &cobra.Command{
		Use:   "add-patchset REPO CHANGE PATCHSET REVISION",
		Short: "Add a patch set to a change",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ps, err := parsePatchSet(args)
			if err != nil {
				return err
			}
			if err := a.changes.AddPatchSet(cmd.Context(), repo, model.PatchSet{
				ID:       ps,
				Revision: args[3],
				Created:  time.Now(),
			}); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "added %s/%s\n", repo, ps)
			return err
		},
	}

	cmd.AddCommand(upsert, addPatchSet)
	return cmd
}

// --- pending, submit, history ---

func newPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending QUERY",
		Short: `Query checks across changes, e.g. "scheme:ci state:NOT_STARTED"`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.pending.Query(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			views := make([]pendingView, 0, len(results))
			for _, pc := range results {
				checks := make(map[string]string, len(pc.Checks))
				for uuid, state := range pc.Checks {
					checks[uuid] = string(state)
				}
				views = append(views, pendingView{
					Repository: pc.Repository,
					PatchSet:   pc.PatchSet.String(),
					Checks:     checks,
				})
			}
			return a.print(views)
		},
	}
}

func newSubmitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit REPO CHANGE",
		Short: "Evaluate the submit rule on a change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parsePositive("change", args[1])
			if err != nil {
				return err
			}
			rec, err := a.submit.Evaluate(cmd.Context(), args[0], number)
			if err != nil {
				return err
			}
			view := submitView{
				Status:        string(rec.Status),
				ErrorMessage:  rec.ErrorMessage,
				CombinedState: string(rec.CombinedState),
			}
			for _, r := range rec.Requirements {
				view.Requirements = append(view.Requirements, r.FallbackText)
			}
			return a.print(view)
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history REPO CHANGE",
		Short: "Show the check writes of a change, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			change, err := parsePositive("change", args[1])
			if err != nil {
				return err
			}
			commits, err := a.checks.History(cmd.Context(), args[0], change, limit)
			if err != nil {
				return err
			}
			views := make([]commitView, 0, len(commits))
			for _, c := range commits {
				views = append(views, commitView{
					ID:      string(c.ID),
					Author:  c.Author,
					When:    c.When.UTC().Format(time.RFC3339),
					Message: c.Message,
				})
			}
			return a.print(views)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of commits; 0 shows all")
	return cmd
}

// --- output ---

type checkerView struct {
	UUID        string   `yaml:"uuid"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	URL         string   `yaml:"url,omitempty"`
	Repository  string   `yaml:"repository"`
	Status      string   `yaml:"status"`
	Blocking    []string `yaml:"blocking,flow"`
	Query       string   `yaml:"query,omitempty"`
}

type checkView struct {
	Checker    string   `yaml:"checker"`
	PatchSet   string   `yaml:"patch_set"`
	State      string   `yaml:"state"`
	Message    string   `yaml:"message,omitempty"`
	URL        string   `yaml:"url,omitempty"`
	Backfilled bool     `yaml:"backfilled,omitempty"`
	Required   bool     `yaml:"required,omitempty"`
	Overridden bool     `yaml:"overridden,omitempty"`
	Overrides  []string `yaml:"overrides,omitempty"`
}

type pendingView struct {
	Repository string            `yaml:"repository"`
	PatchSet   string            `yaml:"patch_set"`
	Checks     map[string]string `yaml:"checks"`
}

type submitView struct {
	Status        string   `yaml:"status"`
	ErrorMessage  string   `yaml:"error_message,omitempty"`
	CombinedState string   `yaml:"combined_state,omitempty"`
	Requirements  []string `yaml:"requirements,omitempty"`
}

type commitView struct {
	ID      string `yaml:"id"`
	Author  string `yaml:"author"`
	When    string `yaml:"when"`
	Message string `yaml:"message"`
}

func toCheckerView(c model.Checker) checkerView {
	blocking := make([]string, 0, len(c.BlockingConditions))
	for _, bc := range c.BlockingConditions {
		blocking = append(blocking, string(bc))
	}
	return checkerView{
		UUID:        c.UUID.String(),
		Name:        c.Name,
		Description: c.Description,
		URL:         c.URL,
		Repository:  c.Repository,
		Status:      string(c.Status),
		Blocking:    blocking,
		Query:       c.Query,
	}
}

func toCheckView(c model.Check) checkView {
	v := checkView{
		Checker:    c.Key.CheckerUUID.String(),
		PatchSet:   c.Key.PatchSet.String(),
		State:      string(c.State),
		Message:    c.Message,
		URL:        c.URL,
		Backfilled: c.Backfilled,
	}
	for _, o := range c.Overrides {
		v.Overrides = append(v.Overrides, o.Overrider+": "+o.Reason)
	}
	return v
}

func toCheckDetailView(d application.CheckDetail) checkView {
	v := toCheckView(d.Check)
	v.Required = d.Required
	v.Overridden = d.Override.Overridden
	return v
}

func (a *app) print(v any) error {
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}

// --- args ---

func parsePositive(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s number %q", name, s)
	}
	return n, nil
}

// parsePatchSet parses REPO CHANGE PATCHSET from the leading args.
func parsePatchSet(args []string) (string, model.PatchSetID, error) {
	change, err := parsePositive("change", args[1])
	if err != nil {
		return "", model.PatchSetID{}, err
	}
	number, err := parsePositive("patch set", args[2])
	if err != nil {
		return "", model.PatchSetID{}, err
	}
	return args[0], model.PatchSetID{Change: change, Number: number}, nil
}
