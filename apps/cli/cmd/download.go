package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

var downloadCmd = &cobra.Command{
	Use:   "download <url> <file>",
	Short: "Stream a response body to a file",
	Long: `Stream a response body to a file without buffering it in memory.

The file is written to a temporary name next to the destination and renamed
once the body has been read completely.

Examples:
  hitclient download https://example.com/report.csv report.csv
  hitclient download https://example.com/export out.zip --method POST -p from=2024-01-01 --cookie-db cookies.db`,
	Args: cobra.ExactArgs(2),
	RunE: downloadCommand,
}

var (
	downloadMethodFlag string
	downloadParamFlags []string
)

func init() {
	downloadCmd.Flags().StringVarP(&downloadMethodFlag, "method", "X", "GET", "Request method (GET or POST)")
	downloadCmd.Flags().StringArrayVarP(&downloadParamFlags, "param", "p", nil, "Request parameter as name=value (repeatable)")
}

func downloadCommand(cmd *cobra.Command, args []string) error {
	url, dest := args[0], args[1]

	method, err := hithttp.ParseMethod(downloadMethodFlag)
	if err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}
	params, err := parsePairs(downloadParamFlags, "=")
	if err != nil {
		return &exitError{code: ExitUsageError, err: fmt.Errorf("--param: %w", err)}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cs, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer cs.Close()

	written, err := downloadTo(cs.Session, method, url, params, cs.charset(), dest)
	if perr := cs.persist(); perr != nil {
		cs.logger.Warn("persisting cookies failed", "error", perr)
	}
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ ")
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", dest, written)
	return nil
}

// downloadTo streams the response body into dest through a temporary file.
func downloadTo(session *hithttp.Session, method hithttp.MethodType, url string, params map[string]string, charset, dest string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var written int64
	err = session.DoRequestStream(func(body io.Reader) error {
		n, err := io.Copy(tmp, body)
		written = n
		return err
	}, method, url, params, charset)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return written, err
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return written, err
	}
	return written, nil
}
