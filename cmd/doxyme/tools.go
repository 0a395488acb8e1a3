package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/doxyme-slack-calling/internal/slackauth"
	"github.com/tbourn/doxyme-slack-calling/internal/store"
)

func lookupCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "lookup [user-id]",
		Short: "Print a user's linked room, or every mapping",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataDir == "" {
				dataDir = os.Getenv("DATA_DIR")
			}
			st := store.New(store.NewDirResolver(dataDir))
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				rec, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("no room linked for %s", args[0])
				}
				_, err = fmt.Fprintln(out, rec.RoomURL)
				return err
			}

			doc, err := st.All(cmd.Context())
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(doc))
			for id := range doc {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				if _, err := fmt.Fprintf(out, "%s\t%s\n", id, doc[id].RoomURL); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "mapping directory (default: $DATA_DIR, then the built-in search)")
	return cmd
}

// signedRequest is what sign prints: the headers to attach to a replayed body.
type signedRequest struct {
	Timestamp string `json:"X-Slack-Request-Timestamp"`
	Signature string `json:"X-Slack-Signature"`
}

func signCmd() *cobra.Command {
	var (
		secret string
		ts     int64
		file   string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a request body the way Slack does, for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("SLACK_SIGNING_SECRET")
			}
			if secret == "" {
				return errors.New("signing secret required: --secret or SLACK_SIGNING_SECRET")
			}
			if ts == 0 {
				ts = time.Now().Unix()
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			body, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			stamp := strconv.FormatInt(ts, 10)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(signedRequest{Timestamp: stamp, Signature: slackauth.Sign(secret, stamp, body)})
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default: $SLACK_SIGNING_SECRET)")
	cmd.Flags().Int64Var(&ts, "timestamp", 0, "unix seconds to sign with (default: now)")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "body file, - for stdin")
	return cmd
}
