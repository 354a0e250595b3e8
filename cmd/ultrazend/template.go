package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ultrazend/ultrazend/internal/template"
)

var (
	templateName        string
	templateDescription string
	templateSubject     string
	templateHTMLFile    string
	templateTextFile    string
	templateSearch      string
	templateDataJSON    string
	templateValues      map[string]string
	templateStyle       string
	templateSanitize    bool
	templateOutput      string
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template management commands",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all templates",
	RunE:  runTemplateList,
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new template",
	RunE:  runTemplateCreate,
}

var templateShowCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Show template details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateShow,
}

var templateVarsCmd = &cobra.Command{
	Use:   "vars <id|name>",
	Short: "List the variables a template uses",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateVars,
}

var templateVersionsCmd = &cobra.Command{
	Use:   "versions <id|name>",
	Short: "Show template version history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateVersions,
}

var templatePreviewCmd = &cobra.Command{
	Use:   "preview <id|name>",
	Short: "Preview template with test values",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatePreview,
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <id|name>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDelete,
}

var templateExportCmd = &cobra.Command{
	Use:   "export <id|name>",
	Short: "Export template as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateExport,
}

var templateImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import template from a YAML export",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateImport,
}

func init() {
	templateCreateCmd.Flags().StringVar(&templateName, "name", "", "Template name (required)")
	templateCreateCmd.Flags().StringVar(&templateDescription, "description", "", "Template description")
	templateCreateCmd.Flags().StringVar(&templateSubject, "subject", "", "Subject template (required)")
	templateCreateCmd.Flags().StringVar(&templateHTMLFile, "html", "", "HTML template file")
	templateCreateCmd.Flags().StringVar(&templateTextFile, "text", "", "Text template file")
	templateCreateCmd.MarkFlagRequired("name")
	templateCreateCmd.MarkFlagRequired("subject")

	templateListCmd.Flags().StringVar(&templateSearch, "search", "", "Filter by name or description")

	templatePreviewCmd.Flags().StringVar(&templateDataJSON, "data", "", "JSON object of values")
	templatePreviewCmd.Flags().StringToStringVar(&templateValues, "set", nil, "Value as name=value (repeatable)")
	templatePreviewCmd.Flags().StringVar(&templateStyle, "missing-style", "", "Missing variable style: literal or bracket")
	templatePreviewCmd.Flags().BoolVar(&templateSanitize, "sanitize", false, "Sanitize HTML output")

	templateExportCmd.Flags().StringVarP(&templateOutput, "output", "o", "", "Output file (default stdout)")

	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateCreateCmd)
	templateCmd.AddCommand(templateShowCmd)
	templateCmd.AddCommand(templateVarsCmd)
	templateCmd.AddCommand(templateVersionsCmd)
	templateCmd.AddCommand(templatePreviewCmd)
	templateCmd.AddCommand(templateDeleteCmd)
	templateCmd.AddCommand(templateExportCmd)
	templateCmd.AddCommand(templateImportCmd)

	rootCmd.AddCommand(templateCmd)
}

// templateExport is the YAML form used by export and import
type templateExport struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Subject     string   `yaml:"subject"`
	HTML        string   `yaml:"html,omitempty"`
	Text        string   `yaml:"text,omitempty"`
	Variables   []string `yaml:"variables,omitempty"` // informational, recomputed on import
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	storage, _, cleanup, err := openTemplates()
	if err != nil {
		return err
	}
	defer cleanup()

	templates, _, err := storage.List(context.Background(), template.ListFilter{Search: templateSearch})
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(templates) == 0 {
		fmt.Fprintln(out, "No templates found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSUBJECT\tVARS\tVERSION\tUPDATED")
	for _, t := range templates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			shortID(t.ID),
			t.Name,
			truncate(t.Subject, 40),
			len(t.Variables),
			t.Version,
			t.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runTemplateCreate(cmd *cobra.Command, args []string) error {
	storage, engine, cleanup, err := openTemplates()
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl := &template.Template{
		Name:        templateName,
		Description: templateDescription,
		Subject:     templateSubject,
	}

	if templateHTMLFile != "" {
		data, err := os.ReadFile(templateHTMLFile)
		if err != nil {
			return fmt.Errorf("failed to read HTML file: %w", err)
		}
		tmpl.HTML = string(data)
	}

	if templateTextFile != "" {
		data, err := os.ReadFile(templateTextFile)
		if err != nil {
			return fmt.Errorf("failed to read text file: %w", err)
		}
		tmpl.Text = string(data)
	}

	return createTemplate(cmd.OutOrStdout(), storage, engine, tmpl)
}

func createTemplate(out io.Writer, storage *template.Storage, engine *template.Engine, tmpl *template.Template) error {
	if err := engine.Validate(tmpl); err != nil {
		return err
	}

	if err := storage.Create(context.Background(), tmpl); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	fmt.Fprintf(out, "Template created: %s\n", tmpl.ID)
	fmt.Fprintf(out, "  Name:      %s\n", tmpl.Name)
	fmt.Fprintf(out, "  Variables: %s\n", joinOrNone(tmpl.Variables))
	return nil
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	storage, _, cleanup, err := openTemplates()
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := lookupTemplate(storage, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", tmpl.ID)
	fmt.Fprintf(out, "Name:        %s\n", tmpl.Name)
	if tmpl.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", tmpl.Description)
	}
	fmt.Fprintf(out, "Subject:     %s\n", tmpl.Subject)
	fmt.Fprintf(out, "Version:     %d\n", tmpl.Version)
	fmt.Fprintf(out, "Variables:   %s\n", joinOrNone(tmpl.Variables))
	fmt.Fprintf(out, "Created:     %s\n", tmpl.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated:     %s\n", tmpl.UpdatedAt.Format("2006-01-02 15:04:05"))

	if tmpl.HTML != "" {
		fmt.Fprintf(out, "\n--- HTML ---\n%s\n", tmpl.HTML)
	}
	if tmpl.Text != "" {
		fmt.Fprintf(out, "\n--- Text ---\n%s\n", tmpl.Text)
	}

	return nil
}

func runTemplateVars(cmd *cobra.Command, args []string) error {
	storage, _, cleanup, err := openTemplates()
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := lookupTemplate(storage, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range tmpl.Variables {
		fmt.Fprintln(out, name)
	}
	return nil
}

func runTemplateVersions(cmd *cobra.Command, args []string) error {
	storage, _, cleanup, err := openTemplates()
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := lookupTemplate(storage, args[0])
	if err != nil {
		return err
	}

	versions, err := storage.Versions(context.Background(), tmpl.ID)
	if err != nil {
		return fmt.Errorf("failed to load versions: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSUBJECT\tVARIABLES\tCREATED")
	for _, v := range versions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			v.Version,
			truncate(v.Subject, 40),
			joinOrNone(v.Variables),
			v.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runTemplatePreview(cmd *cobra.Command, args []string) error {
	storage, engine, cleanup, err := openTemplates()
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := lookupTemplate(storage, args[0])
	if err != nil {
		return err
	}

	values := make(map[string]string)
	if templateDataJSON != "" {
		if err := json.Unmarshal([]byte(templateDataJSON), &values); err != nil {
			return fmt.Errorf("invalid JSON data: %w", err)
		}
	}
	for k, v := range templateValues {
		values[k] = v
	}

	opts := engine.Defaults()
	if templateStyle != "" {
		style, err := template.ParseMissingStyle(templateStyle)
		if err != nil {
			return err
		}
		opts.MissingStyle = style
	}
	if cmd.Flags().Changed("sanitize") {
		opts.SanitizeHTML = templateSanitize
	}

	result := engine.Preview(tmpl, values, &opts)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subject: %s\n", result.Subject)
	if result.HTML != "" {
		fmt.Fprintf(out, "\n--- HTML ---\n%s\n", result.HTML)
	}
	if result.Text != "" {
		fmt.Fprintf(out, "\n--- Text ---\n%s\n", result.Text)
	}
	if len(result.Missing) > 0 {
		fmt.Fprintf(out, "\nMissing: %s\n", strings.Join(result.Missing, ", "))
	}

	return nil
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	storage, _, cleanup, err := openTemplates()
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := lookupTemplate(storage, args[0])
	if err != nil {
		return err
	}

	if err := storage.Delete(context.Background(), tmpl.ID); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Template %s deleted\n", tmpl.Name)
	return nil
}

func runTemplateExport(cmd *cobra.Command, args []string) error {
	storage, _, cleanup, err := openTemplates()
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := lookupTemplate(storage, args[0])
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(templateExport{
		Name:        tmpl.Name,
		Description: tmpl.Description,
		Subject:     tmpl.Subject,
		HTML:        tmpl.HTML,
		Text:        tmpl.Text,
		Variables:   tmpl.Variables,
	})
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	if templateOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(templateOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Template exported to %s\n", templateOutput)
	return nil
}

func runTemplateImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}

	var exp templateExport
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return fmt.Errorf("failed to parse import file: %w", err)
	}

	storage, engine, cleanup, err := openTemplates()
	if err != nil {
		return err
	}
	defer cleanup()

	return createTemplate(cmd.OutOrStdout(), storage, engine, &template.Template{
		Name:        exp.Name,
		Description: exp.Description,
		Subject:     exp.Subject,
		HTML:        exp.HTML,
		Text:        exp.Text,
	})
}

func lookupTemplate(storage *template.Storage, ref string) (*template.Template, error) {
	tmpl, err := storage.Lookup(context.Background(), ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template not found: %s", ref)
	}
	return tmpl, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
