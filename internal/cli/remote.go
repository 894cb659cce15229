package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chemviz/equipment-visualizer/internal/client"
	"github.com/chemviz/equipment-visualizer/internal/model"
)

func loginCommand(opts *Options) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the server and save the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			if password == "" {
				var err error
				if password, err = readPassword(cmd); err != nil {
					return err
				}
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := saveToken(opts.fs, opts.TokenFile, resp.AccessToken); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", resp.User.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func logoutCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if c.Token() == "" {
				return errNotLoggedIn
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			if err := clearToken(opts.fs, opts.TokenFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func uploadCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Upload a CSV file and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.authedClient()
			if err != nil {
				return err
			}

			f, err := opts.fs.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			resp, err := c.Upload(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (dataset %d)\n", resp.Message, resp.Data.ID)
			printSummary(out, resp.Data.Filename, resp.Analysis)
			return nil
		},
	}
}

func historyCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List your retained datasets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			items, err := c.History(cmd.Context())
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), items)
			return nil
		},
	}
}

func summaryCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <dataset-id>",
		Short: "Show the analysis of a stored dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			resp, err := c.Summary(cmd.Context(), id)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), resp.Dataset.Filename, resp.Analysis)
			return nil
		},
	}
}

func reportCommand(opts *Options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report <dataset-id>",
		Short: "Download the PDF report of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.saveDownload(cmd, args[0], output, "Report", (*client.Client).Report)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to the server's filename)")
	return cmd
}

func downloadCommand(opts *Options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <dataset-id>",
		Short: "Download the original CSV of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.saveDownload(cmd, args[0], output, "File", (*client.Client).Original)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to the uploaded filename)")
	return cmd
}

type fetchFunc func(c *client.Client, ctx context.Context, id int, w io.Writer) (string, error)

// saveDownload fetches one attachment of a dataset and writes it to output,
// or to the server's filename when output is empty
func (o *Options) saveDownload(cmd *cobra.Command, arg, output, what string, fetch fetchFunc) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	c, err := o.authedClient()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	name, err := fetch(c, cmd.Context(), id, &buf)
	if err != nil {
		return err
	}
	if output == "" {
		output = name
	}
	if err := afero.WriteFile(o.fs, output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s saved to %s\n", what, output)
	return nil
}

func deleteCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <dataset-id>",
		Short: "Delete a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dataset %d deleted\n", id)
			return nil
		},
	}
}

func printHistory(w io.Writer, items []model.DatasetSummary) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No datasets yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tUPLOADED\tROWS\tAVG FLOW\tAVG PRESS\tAVG TEMP")
	for _, d := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.2f\t%.2f\t%.2f\n",
			d.ID, d.Filename, d.UploadedAt.Local().Format("2006-01-02 15:04"),
			d.TotalCount, d.AvgFlowrate, d.AvgPressure, d.AvgTemperature)
	}
	tw.Flush()
}

func (o *Options) authedClient() (*client.Client, error) {
	c, err := o.client()
	if err != nil {
		return nil, err
	}
	if c.Token() == "" {
		return nil, errNotLoggedIn
	}
	return c, nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid dataset id %q", s)
	}
	return id, nil
}

func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		return string(pw), err
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
