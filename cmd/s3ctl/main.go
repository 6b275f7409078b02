package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sukirti1329/s3-system/internal/bus"
	"github.com/sukirti1329/s3-system/internal/deadletter"
	"github.com/sukirti1329/s3-system/internal/shared/db"
	"github.com/sukirti1329/s3-system/internal/shared/kafkax"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what the commands reach outside the process, so tests can swap
// the broker and the database for in-memory ones.
type app struct {
	v         *viper.Viper
	newSink   func(brokers []string) (bus.Sink, io.Closer, error)
	openStore func(ctx context.Context, databaseURL string) (deadletter.Store, io.Closer, error)
}

func defaultApp() *app {
	return &app{
		v: viper.New(),
		newSink: func(brokers []string) (bus.Sink, io.Closer, error) {
			p, err := kafkax.NewProducer(kafkax.ProducerConfig{Brokers: brokers, ClientID: "s3ctl"})
			if err != nil {
				return nil, nil, err
			}
			return p, p, nil
		},
		openStore: func(ctx context.Context, databaseURL string) (deadletter.Store, io.Closer, error) {
			pg, err := db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: databaseURL, ApplicationName: "s3ctl", MaxOpenConns: 2})
			if err != nil {
				return nil, nil, err
			}
			return deadletter.NewPostgresStore(pg), pg, nil
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "s3ctl",
		Short:         "Operate the S3 metadata event pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `s3ctl publishes bucket and object events, inspects and rolls back
object versions through the metadata service, and requeues dead letters.

Every flag can also be set as an S3_ environment variable, for example
S3_BROKERS=k1:9092,k2:9092 or S3_METADATA_URL=http://metadata:8080.`,
	}

	pf := root.PersistentFlags()
	pf.StringSlice("brokers", []string{"localhost:9092"}, "Kafka brokers")
	pf.String("events-config", "", "YAML file with the topic map")
	pf.String("metadata-url", "http://localhost:8080", "metadata service base URL")
	pf.String("database-url", "", "Postgres URL holding the dead-letter table")

	a.v.SetEnvPrefix("S3")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindPFlags(pf)

	root.AddCommand(newPublishCmd(a), newVersionsCmd(a), newObjectsCmd(a), newDeadLettersCmd(a))
	return root
}

// brokers accepts both repeated flags and a comma list from S3_BROKERS, which
// viper hands back as a single element.
func (a *app) brokers() []string {
	var out []string
	for _, b := range a.v.GetStringSlice("brokers") {
		for _, p := range strings.Split(b, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
