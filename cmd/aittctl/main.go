// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aittgo/aitt"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("aittctl v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) < 2 {
		showUsage()
		os.Exit(1)
	}

	command, cfgPathArg := args[0], args[1]
	cfgPath, err := filepath.Abs(cfgPathArg)
	if err != nil {
		log.Fatalf("invalid config path: %v", err)
	}

	switch command {
	case "sub":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: aittctl sub <config.json> <topic-pattern>")
			os.Exit(1)
		}
		runSub(cfgPath, args[2])

	case "pub":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: aittctl pub <config.json> <topic> <payload>")
			os.Exit(1)
		}
		runPub(cfgPath, args[2], args[3])

	case "reply-serve":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: aittctl reply-serve <config.json> <topic-pattern>")
			os.Exit(1)
		}
		runReplyServe(cfgPath, args[2])

	case "reply-call":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: aittctl reply-call <config.json> <topic> <payload>")
			os.Exit(1)
		}
		runReplyCall(cfgPath, args[2], args[3])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func runSub(cfgPath, pattern string) {
	ctx, cancel := withSignals()
	defer cancel()

	c, err := aitt.NewClient(ctx, cfgPath)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer c.Close(context.Background())

	fmt.Printf("subscribed as %s to %q (Ctrl+C to stop)\n", c.PeerID(), pattern)
	_, err = c.Subscribe(ctx, pattern, aitt.MQTT, aitt.AtLeastOnce, func(topic string, payload []byte, fromPeer string) {
		fmt.Printf("[%s] %s\n", topic, payload)
	}, nil)
	if err != nil {
		log.Fatalf("subscribe failed: %v", err)
	}

	<-ctx.Done()
}

func runPub(cfgPath, topic, payload string) {
	ctx, cancel := withSignals()
	defer cancel()

	c, err := aitt.NewClient(ctx, cfgPath)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer c.Close(context.Background())

	if err := c.Publish(ctx, topic, []byte(payload), aitt.MQTT, aitt.AtLeastOnce, false); err != nil {
		log.Fatalf("publish failed: %v", err)
	}
	fmt.Printf("published %d bytes to %q\n", len(payload), topic)
}

func runReplyServe(cfgPath, pattern string) {
	ctx, cancel := withSignals()
	defer cancel()

	c, err := aitt.NewClient(ctx, cfgPath)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer c.Close(context.Background())

	fmt.Printf("serving replies as %s on %q (Ctrl+C to stop)\n", c.PeerID(), pattern)
	_, err = c.SubscribeReply(ctx, pattern, aitt.AtLeastOnce, func(rc aitt.ReplyContext, topic string, payload []byte) {
		fmt.Printf("request on %q: %s\n", topic, payload)
		reply := append([]byte("echo: "), payload...)
		if err := c.SendReply(ctx, rc, reply, true); err != nil {
			log.Printf("send reply failed: %v", err)
		}
	}, nil)
	if err != nil {
		log.Fatalf("subscribe failed: %v", err)
	}

	<-ctx.Done()
}

func runReplyCall(cfgPath, topic, payload string) {
	ctx, cancel := withSignals()
	defer cancel()

	c, err := aitt.NewClient(ctx, cfgPath)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer c.Close(context.Background())

	frames, err := c.PublishWithReplySync(ctx, topic, []byte(payload), aitt.AtLeastOnce, 5*time.Second)
	if err != nil {
		log.Fatalf("reply call failed: %v", err)
	}
	for _, f := range frames {
		fmt.Printf("reply seq=%d end=%v: %s\n", f.Sequence, f.End, f.Payload)
	}
}

func withSignals() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()
	return ctx, cancel
}

func showUsage() {
	fmt.Println("aittctl - manual AITT engine exerciser")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  aittctl sub         <config.json> <topic-pattern>")
	fmt.Println("  aittctl pub         <config.json> <topic> <payload>")
	fmt.Println("  aittctl reply-serve <config.json> <topic-pattern>")
	fmt.Println("  aittctl reply-call  <config.json> <topic> <payload>")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("The config file is created with a generated identity on first use")
	fmt.Println("if it does not already exist (see internal/config.Ensure).")
}
