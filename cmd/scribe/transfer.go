package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haukened/scribe/internal/client"
	"github.com/haukened/scribe/internal/config"
	"github.com/haukened/scribe/internal/domain"
	"github.com/haukened/scribe/internal/ingest"
)

const defaultServer = "http://localhost:8080"

type uploadOptions struct {
	server  string
	title   string
	content string
	tags    string
}

func newUploadCmd(cfg *config.Config) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Create a post and upload its attachment in chunks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ingest.Request{
				Title:   opts.title,
				Content: opts.content,
				Tags:    domain.ParseTagList(opts.tags),
			}
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				st, err := f.Stat()
				if err != nil {
					return err
				}
				req.Name = filepath.Base(args[0])
				req.Body = f
				req.Size = st.Size()
			}

			c := client.NewClient(opts.server, cfg.ChunkTimeout)
			stderr := cmd.ErrOrStderr()
			u := ingest.Uploader{
				Owner: c,
				Driver: ingest.Driver{
					Sink:         c,
					ChunkSize:    int(cfg.ChunkSize),
					ChunkTimeout: cfg.ChunkTimeout,
					Progress: func(p ingest.Progress) {
						fmt.Fprintf(stderr, "\ruploading %s: %3d%% (%d/%d)", req.Name, p.Percent, p.Chunk, p.TotalChunks)
						if p.Chunk == p.TotalChunks {
							fmt.Fprintln(stderr)
						}
					},
				},
				Timeout: cfg.UploadTimeout,
			}
			res, err := u.Upload(cmd.Context(), req)
			if err != nil {
				if res.Post.ID != "" {
					fmt.Fprintln(stderr)
					return fmt.Errorf("post %s left with a partial attachment: %w", res.Post.ID, err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Post.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", defaultServer, "scribe server base URL")
	cmd.Flags().StringVar(&opts.title, "title", "", "post title")
	cmd.Flags().StringVar(&opts.content, "content", "", "post body")
	cmd.Flags().StringVar(&opts.tags, "tags", "", "comma separated tags")
	return cmd
}

func newDownloadCmd(cfg *config.Config) *cobra.Command {
	var server, output string
	cmd := &cobra.Command{
		Use:   "download <post-id>",
		Short: "Download the attachment of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(server, cfg.UploadTimeout)
			if output == "-" {
				_, _, err := c.Download(cmd.Context(), args[0], cmd.OutOrStdout())
				return err
			}
			dir := "."
			if output != "" {
				dir = filepath.Dir(output)
			}
			tmp, err := os.CreateTemp(dir, ".scribe-download-*")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())
			name, n, err := c.Download(cmd.Context(), args[0], tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			dest := output
			if dest == "" {
				dest = downloadName(name, args[0])
			}
			if err := os.Rename(tmp.Name(), dest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", n, dest)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", defaultServer, "scribe server base URL")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination path (\"-\" for stdout, default: server filename)")
	return cmd
}

// downloadName picks a local filename from the announced one, never leaving
// the current directory.
func downloadName(announced, postID string) string {
	base := filepath.Base(announced)
	if announced == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return postID
	}
	return base
}

func newDeleteCmd(cfg *config.Config) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "delete <post-id>",
		Short: "Delete a post and its attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(server, cfg.ChunkTimeout)
			if err := c.DeletePost(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", defaultServer, "scribe server base URL")
	return cmd
}
