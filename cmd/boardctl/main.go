package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskflow/boardclient"
	"taskflow/internal/config"
)

var Version = "dev"

type options struct {
	apiURL    string
	streamURL string
	token     string
	actor     string
}

func (o *options) client() *boardclient.Client {
	return boardclient.New(o.apiURL, o.token)
}

func main() {
	config.ConfigureLogging()
	opts := &options{}
	root := &cobra.Command{
		Use:          "boardctl",
		Short:        "Inspect and reorder kanban boards",
		Version:      Version,
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", config.String("BOARD_API_URL", "http://localhost:8080"), "board API base URL")
	flags.StringVar(&opts.streamURL, "stream", config.String("STREAM_SERVICE_URL", "http://localhost:9000"), "stream service base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("BOARD_TOKEN"), "bearer token")
	flags.StringVar(&opts.actor, "actor", "cli-"+uuid.NewString()[:8], "actor id stamped on change events")

	root.AddCommand(
		showCmd(opts),
		watchCmd(opts),
		moveColumnCmd(opts),
		moveCardCmd(opts),
		createBoardCmd(opts),
		addColumnCmd(opts),
		addCardCmd(opts),
	)

	if err := root.Execute(); err != nil {
		log.Debug(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
