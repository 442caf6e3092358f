package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskgraph/internal/importer"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create task trees from a YAML document",
	Long: `Import a YAML document of nested tasks. Dependencies name other tasks by
key (or by name when no key is given) and may point forward in the file.

  session: billing
  tasks:
    - name: Set up database
      key: db
    - name: Build API
      depends_on: [db]
      children:
        - name: Write handlers

The target session is --session, else the document's session (by ID, or a
new session of that name), else the active session, else a new session named
after the file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		doc, err := importer.ParseFile(args[0])
		if err != nil {
			return err
		}
		sid, err := importSession(ctx, doc, args[0])
		if err != nil {
			return err
		}
		res, err := svc.importer.Import(ctx, sid, doc)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if flagJSON {
			return printJSON(out, map[string]any{"session_id": sid, "ids": res.IDs, "roots": res.Roots})
		}
		printStatus(out, "✓", fmt.Sprintf("Imported %d tasks (%d roots) into session %s", len(res.Tasks), len(res.Roots), sid), color.FgGreen)
		for _, id := range res.Roots {
			fmt.Fprintf(out, "  %s\n", id)
		}
		return nil
	},
}

func importSession(ctx context.Context, doc *importer.Document, path string) (string, error) {
	if flagSession != "" {
		return svc.sessionID(ctx)
	}
	if doc.Session != "" {
		s, err := svc.db.GetSession(ctx, doc.Session)
		if err != nil {
			return "", err
		}
		if s != nil {
			return s.ID, nil
		}
		return createSession(ctx, doc.Session)
	}
	id, err := svc.sessionID(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, errNoSession) {
		return "", err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return createSession(ctx, name)
}

func createSession(ctx context.Context, name string) (string, error) {
	s := &models.Session{Name: name}
	if err := svc.db.CreateSession(ctx, s); err != nil {
		return "", err
	}
	svc.log.WithField("session", s.ID).Infof("created session %q", name)
	return s.ID, nil
}
