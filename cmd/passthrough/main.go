// Command passthrough checks that a pass-through streaming job copies its
// input topic to its output topic unchanged and in order.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	harness "github.com/birdayz/kstreams-harness"
	"github.com/birdayz/kstreams-harness/kbroker"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/birdayz/kstreams-harness/pkg/log"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var defaultLines = []string{
	"hello world",
	"the world is not enough",
	"the world of the stock market is coming to an end",
}

type flags struct {
	broker      string
	brokers     string
	redpanda    string
	configPath  string
	jobID       string
	inputTopic  string
	outputTopic string
	unique      bool
	interval    time.Duration
	budget      time.Duration
	settle      time.Duration
	metricsAddr string
	verbosity   int
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "passthrough [values...]",
		Short: "Verify a pass-through pipeline against a single-node broker",
		Long: `Starts a broker (in-process by default), runs a streaming job that
copies the input topic to the output topic, produces the given values
and polls the output topic until they all arrived or the budget is spent.

Without values the classic three sample lines are used.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			values := args
			if len(values) == 0 {
				values = defaultLines
			}
			return run(cmd.Context(), cmd, f, values)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.broker, "broker", "embedded", "broker to run against: embedded, redpanda or external")
	fl.StringVar(&f.brokers, "brokers", "localhost:9092", "bootstrap address of the external broker")
	fl.StringVar(&f.redpanda, "redpanda-version", "", "Redpanda image tag")
	fl.StringVar(&f.configPath, "config", "", "YAML file with streams, producer, consumer and verify sections")
	fl.StringVar(&f.jobID, "job-id", "noop-test-streams", "application id of the streaming job")
	fl.StringVar(&f.inputTopic, "input-topic", "inputTopic", "source topic")
	fl.StringVar(&f.outputTopic, "output-topic", "outputTopic", "sink topic")
	fl.BoolVar(&f.unique, "unique-topics", false, "suffix topics and job id with a random id, for shared brokers")
	fl.DurationVar(&f.interval, "interval", harness.DefaultPollInterval, "verification poll interval")
	fl.DurationVar(&f.budget, "budget", harness.DefaultBudget, "verification polling budget")
	fl.DurationVar(&f.settle, "settle", harness.DefaultSettleDelay, "maximum wait for the job before and after producing")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	fl.IntVarP(&f.verbosity, "verbose", "v", 0, "log verbosity")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, f *flags, values []string) error {
	logger := log.Logr(log.New(f.verbosity)).WithName("passthrough")

	file := &kconfig.File{}
	if f.configPath != "" {
		var err error
		if file, err = kconfig.Load(f.configPath); err != nil {
			return err
		}
		// Flags given explicitly win over the file.
		if d := file.Verify.Interval.Std(); d > 0 && !cmd.Flags().Changed("interval") {
			f.interval = d
		}
		if d := file.Verify.Budget.Std(); d > 0 && !cmd.Flags().Changed("budget") {
			f.budget = d
		}
		if d := file.Verify.Settle.Std(); d > 0 && !cmd.Flags().Changed("settle") {
			f.settle = d
		}
	}

	broker, err := newBroker(f, logger.WithName("broker"))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if f.metricsAddr != "" {
		srv := &http.Server{Addr: f.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(err, "Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	h := harness.New(
		harness.WithBroker(broker),
		harness.WithLogr(logger),
		harness.WithPollInterval(f.interval),
		harness.WithBudget(f.budget),
		harness.WithSettleDelay(f.settle),
		harness.WithRegisterer(reg),
	)
	defer func() {
		if err := h.Stop(); err != nil {
			logger.Error(err, "Failed to stop broker")
		}
	}()
	if err := h.Start(ctx); err != nil {
		return err
	}

	pt := harness.PassThrough{
		JobID:       f.jobID,
		InputTopic:  f.inputTopic,
		OutputTopic: f.outputTopic,
		Values:      values,
		Streams:     file.Streams,
		Producer:    file.Producer,
		Consumer:    file.Consumer,
	}
	if f.unique {
		suffix := uuid.NewString()
		pt.JobID += "-" + suffix
		pt.InputTopic += "-" + suffix
		pt.OutputTopic += "-" + suffix
	}

	report, err := h.RunPassThrough(ctx, pt)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s: %s after %d polls (%s), %d/%d values\n",
		report.JobID, report.Result.State, report.Result.Polls, report.Result.Elapsed,
		len(report.Result.Observed), len(report.Input))
	if err := report.Check(); err != nil {
		return err
	}
	fmt.Fprintln(out, "output matches input")
	return nil
}

func newBroker(f *flags, logger logr.Logger) (kbroker.Broker, error) {
	switch f.broker {
	case "embedded":
		return &kbroker.Embedded{Log: logger}, nil
	case "redpanda":
		return &kbroker.Redpanda{RedpandaVersion: f.redpanda, Log: logger}, nil
	case "external":
		return &kbroker.External{Addr: f.brokers, Log: logger}, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", f.broker)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}
