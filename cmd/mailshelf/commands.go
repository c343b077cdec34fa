package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.io/infrasutra/mailshelf/internal/api"
	"github.io/infrasutra/mailshelf/internal/importer"
	"github.io/infrasutra/mailshelf/internal/mboxexport"
	"github.io/infrasutra/mailshelf/internal/rfc822"
	"github.io/infrasutra/mailshelf/internal/search"
	"github.io/infrasutra/mailshelf/internal/sse"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			loader := importer.New(a.store, a.logger, a.cfg.AttachmentWorkers)
			apiServer := api.NewServer(a.cfg, a.store, loader, sse.NewHub(), a.logger)
			httpSrv := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           apiServer,
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http server listening", "addr", a.cfg.HTTPAddr)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("shutdown http", "error", err)
			}
			apiServer.Wait()
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Listen address (falls back to HTTP_ADDR)")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <archive.zip>",
		Short: "Replace the local store with the content of an export archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			bar := newProgressBar(a.cfg.LogLevel == "info")
			loader := importer.New(a.store, a.logger, a.cfg.AttachmentWorkers)
			result, err := loader.ImportFile(cmd.Context(), path, bar.Sink)
			bar.Stop()
			if err != nil {
				return err
			}

			pterm.Success.Println("Import complete!")
			pterm.Info.Printf("Archive: %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))
			pterm.Info.Printf("Folders: %s\n", humanize.Comma(int64(result.Folders)))
			pterm.Info.Printf("Messages: %s\n", humanize.Comma(int64(result.Messages)))
			pterm.Info.Printf("Attachments: %s\n", humanize.Comma(int64(result.Attachments)))
			if result.FailedAttachments > 0 {
				pterm.Warning.Printf("Skipped attachments: %s\n", humanize.Comma(int64(result.FailedAttachments)))
			}
			pterm.Info.Printf("Duration: %v\n", result.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func (a *app) foldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List imported folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			folders, err := a.store.ListFolders(cmd.Context())
			if err != nil {
				return err
			}
			if len(folders) == 0 {
				pterm.Info.Println("No folders imported.")
				return nil
			}
			data := pterm.TableData{{"ID", "Name", "Emails", "Attachments", "Earliest", "Latest"}}
			for _, f := range folders {
				data = append(data, []string{
					f.ID,
					f.FolderName,
					humanize.Comma(int64(f.EmailCount)),
					humanize.Comma(int64(f.AttachmentCount)),
					f.DateRange.Earliest,
					f.DateRange.Latest,
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search --folder <id> [query]",
		Short: "Search the messages of a folder",
		Long: "Search the messages of a folder. Queries may start with from:, to:, subject: or\n" +
			"attachments:; anything else matches sender, recipient, subject and body.",
		RunE: func(cmd *cobra.Command, args []string) error {
			folderID, err := cmd.Flags().GetString("folder")
			if err != nil {
				return err
			}
			if _, err := a.store.GetFolder(cmd.Context(), folderID); err != nil {
				return fmt.Errorf("folder %q: %w", folderID, err)
			}
			messages, err := a.store.ListMessagesByFolder(cmd.Context(), folderID)
			if err != nil {
				return err
			}
			matched := search.Filter(messages, strings.Join(args, " "))
			if len(matched) == 0 {
				pterm.Info.Println("No matching messages.")
				return nil
			}
			data := pterm.TableData{{"ID", "Date", "From", "Subject", "Att", "Read"}}
			for _, m := range matched {
				data = append(data, []string{
					m.ID,
					m.Date,
					m.From,
					m.Subject,
					strconv.Itoa(len(m.Attachments)),
					strconv.FormatBool(m.IsRead),
				})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
				return err
			}
			pterm.Info.Printf("%s of %s messages\n", humanize.Comma(int64(len(matched))), humanize.Comma(int64(len(messages))))
			return nil
		},
	}
	cmd.Flags().String("folder", "", "Folder id to search")
	_ = cmd.MarkFlagRequired("folder")
	return cmd
}

func (a *app) readCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <message-id>",
		Short: "Print a message and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			message, err := a.store.GetMessage(ctx, args[0])
			if err != nil {
				return fmt.Errorf("message %q: %w", args[0], err)
			}
			raw, err := cmd.Flags().GetBool("raw")
			if err != nil {
				return err
			}
			keepUnread, err := cmd.Flags().GetBool("keep-unread")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if raw {
				if err := rfc822.Write(ctx, out, message, a.store); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "From:    %s\n", message.From)
				fmt.Fprintf(out, "To:      %s\n", message.To)
				if message.Cc != "" {
					fmt.Fprintf(out, "Cc:      %s\n", message.Cc)
				}
				fmt.Fprintf(out, "Date:    %s\n", message.Date)
				fmt.Fprintf(out, "Subject: %s\n", message.Subject)
				for _, ref := range message.Attachments {
					fmt.Fprintf(out, "Attach:  %s (%s, %s)\n", ref.FileName, ref.MimeType, humanize.Bytes(uint64(max(ref.Size, 0))))
				}
				fmt.Fprintln(out)
				body := message.TextBody
				if body == "" && message.HTMLBody != "" {
					body = "[HTML only; use --raw to view]"
				}
				fmt.Fprintln(out, body)
			}

			if !keepUnread && !message.IsRead {
				return a.store.SetRead(ctx, message.ID, true)
			}
			return nil
		},
	}
	cmd.Flags().Bool("raw", false, "Print the message as RFC 5322 with attachments")
	cmd.Flags().Bool("keep-unread", false, "Do not mark the message read")
	return cmd
}

func (a *app) exportMboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-mbox --folder <id> --out <file>",
		Short: "Write the messages of a folder to an mbox file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			folderID, err := flags.GetString("folder")
			if err != nil {
				return err
			}
			outPath, err := flags.GetString("out")
			if err != nil {
				return err
			}
			withAttachments, err := flags.GetBool("attachments")
			if err != nil {
				return err
			}

			file, err := os.Create(outPath)
			if err != nil {
				return err
			}
			count, err := mboxexport.WriteFolder(cmd.Context(), a.store, folderID, file, mboxexport.Options{WithAttachments: withAttachments})
			if closeErr := file.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				os.Remove(outPath)
				return err
			}

			size := "0 B"
			if info, err := os.Stat(outPath); err == nil {
				size = humanize.Bytes(uint64(info.Size()))
			}
			pterm.Success.Printf("Exported %s messages to %s (%s)\n", humanize.Comma(int64(count)), outPath, size)
			return nil
		},
	}
	cmd.Flags().String("folder", "", "Folder id to export")
	cmd.Flags().String("out", "", "Output mbox path")
	cmd.Flags().Bool("attachments", true, "Embed attachment blobs")
	_ = cmd.MarkFlagRequired("folder")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all imported data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Clear(cmd.Context()); err != nil {
				return err
			}
			pterm.Success.Println("Store cleared.")
			return nil
		},
	}
}
