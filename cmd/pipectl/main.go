// pipectl is a small debugging tool for msgpipe endpoints.
//
//	pipectl listen /tmp/a.sock                 # bind a pipe, print messages
//	pipectl send /tmp/a.sock greet text=hi     # one-shot send
//	pipectl send --expect-reply /tmp/a.sock q  # send and wait for the reply
//	pipectl ping /tmp/a.sock                   # round-trip time probe
//
// With --etcd the target argument of send/ping is a pipe name resolved
// through the etcd directory, and listen announces itself there.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"msgpipe/address"
	"msgpipe/discovery"
	"msgpipe/message"
	"msgpipe/pipe"
)

var (
	flagVerbose     bool
	flagEtcd        string
	flagTimeout     time.Duration
	flagExpectReply bool
)

func main() {
	root := &cobra.Command{
		Use:           "pipectl",
		Short:         "Inspect and exercise msgpipe endpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&flagEtcd, "etcd", "", "etcd endpoint for the pipe directory (host:port)")

	listenCmd := &cobra.Command{
		Use:   "listen <socket-path>",
		Short: "Bind a pipe and print every received message",
		Args:  cobra.ExactArgs(1),
		RunE:  runListen,
	}

	sendCmd := &cobra.Command{
		Use:   "send <target> <msg-name> [key=value ...]",
		Short: "Send one message to a pipe",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runSend,
	}
	sendCmd.Flags().BoolVar(&flagExpectReply, "expect-reply", false, "wait for a callback reply")
	sendCmd.Flags().DurationVar(&flagTimeout, "timeout", 2*time.Second, "reply wait timeout")

	pingCmd := &cobra.Command{
		Use:   "ping <target>",
		Short: "Measure the round-trip time to a listening pipe",
		Args:  cobra.ExactArgs(1),
		RunE:  runPing,
	}
	pingCmd.Flags().DurationVar(&flagTimeout, "timeout", 2*time.Second, "reply wait timeout")

	root.AddCommand(listenCmd, sendCmd, pingCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pipectl:", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if !flagVerbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func directory() (*discovery.EtcdDirectory, error) {
	if flagEtcd == "" {
		return nil, nil
	}
	return discovery.NewEtcdDirectory([]string{flagEtcd})
}

// resolveTarget maps the target argument to an address: through the etcd
// directory when configured, literally otherwise.
func resolveTarget(arg string) (address.Address, error) {
	if flagEtcd == "" {
		return address.New(arg), nil
	}
	dir, err := directory()
	if err != nil {
		return address.Address{}, err
	}
	defer dir.Close()
	path, err := dir.Lookup(arg)
	if err != nil {
		return address.Address{}, err
	}
	return address.New(path), nil
}

// ephemeralPipe binds a short-lived pipe for one send/ping invocation.
func ephemeralPipe() (*pipe.Pipe, error) {
	path := fmt.Sprintf("%s/pipectl-%d.sock", os.TempDir(), os.Getpid())
	return pipe.New(path, pipe.WithCustomDirectory(), pipe.WithLogger(newLogger()))
}

func runListen(cmd *cobra.Command, args []string) error {
	opts := []pipe.Option{pipe.WithCustomDirectory(), pipe.WithLogger(newLogger())}
	dir, err := directory()
	if err != nil {
		return err
	}
	if dir != nil {
		opts = append(opts, pipe.WithDirectory(dir))
	}

	p, err := pipe.New(args[0], opts...)
	if err != nil {
		return err
	}
	defer p.Clean()

	p.ReceiveAll(func(m *message.Message) {
		fmt.Printf("[%s] %s %v\n", m.RemoteAddress.GetOrDefault("<unknown>"), m.Name, m.Args)
		if m.ExpectsReply() {
			reply := m.Reply(message.KindSuccess, m.Args)
			if err := p.Send(m.RemoteAddress, reply); err != nil {
				fmt.Fprintln(os.Stderr, "reply failed:", err)
			}
		}
	})

	fmt.Println("listening on", args[0])
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	target, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	msgArgs := make(map[string]string)
	for _, kv := range args[2:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("argument %q is not key=value", kv)
		}
		msgArgs[k] = v
	}
	m := message.New(args[1], msgArgs)

	p, err := ephemeralPipe()
	if err != nil {
		return err
	}
	defer p.Clean()

	if !flagExpectReply {
		return p.Send(target, m)
	}

	pending, err := p.SendExpectReply(target, m)
	if err != nil {
		return err
	}
	reply := p.WaitReply(pending, flagTimeout)
	fmt.Printf("%s %v\n", reply.Kind.Wire(), reply.Args)
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	target, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	p, err := ephemeralPipe()
	if err != nil {
		return err
	}
	defer p.Clean()

	start := time.Now()
	pending, err := p.SendExpectReply(target, message.New("ping", nil))
	if err != nil {
		return err
	}
	reply := p.WaitReply(pending, flagTimeout)
	if reply.Kind != message.KindSuccess {
		return fmt.Errorf("no pong: %s %v", reply.Kind.Wire(), reply.Args)
	}
	fmt.Printf("pong from %s in %v\n",
		reply.RemoteAddress.GetOrDefault("<unknown>"), time.Since(start).Round(time.Microsecond))
	return nil
}
