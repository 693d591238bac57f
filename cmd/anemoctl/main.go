// Command anemoctl plays the phone: it connects to a box's websocket
// peripheral and issues RPCs, or lists the boxes announced in etcd.
//
//	anemoctl call ws://box:8890/ble clock_now
//	anemoctl call ws://box:8890/ble ep_packets '{"name":"box42","src":"box42","dst":"cloud"}'
//	anemoctl settime ws://box:8890/ble
//	anemoctl boxes --etcd localhost:2379 [--watch]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"anemobox/clock"
	"anemobox/dispatcher"
	"anemobox/logger"
	"anemobox/peripheral"
	"anemobox/protocol"
	"anemobox/registry"
	"anemobox/transport"
)

var (
	mtu      = flag.Int("mtu", 20, "MTU to negotiate")
	framing  = flag.String("framing", "sentinel", "sentinel or length")
	timeout  = flag.Duration("timeout", 30*time.Second, "call timeout")
	etcd     = flag.StringSlice("etcd", []string{"localhost:2379"}, "etcd endpoints")
	watch    = flag.Bool("watch", false, "keep printing box list changes")
	logLevel = flag.String("log-level", "warn", "log level")
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: anemoctl [flags] call URL FUNC [ARGS] | settime URL | boxes")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if err := logger.Init(*logLevel); err != nil {
		logrus.Fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch {
	case args[0] == "call" && (len(args) == 3 || len(args) == 4):
		var raw json.RawMessage
		if len(args) == 4 {
			raw = json.RawMessage(args[3])
		}
		err = call(ctx, args[1], args[2], raw)
	case args[0] == "settime" && len(args) == 2:
		err = setTime(ctx, args[1])
	case args[0] == "boxes" && len(args) == 1:
		err = boxes(*etcd, *watch)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "anemoctl:", err)
		os.Exit(1)
	}
}

// connect dials the box and returns a dispatcher speaking to it.
func connect(ctx context.Context, url string) (*dispatcher.Dispatcher, func(), error) {
	f, err := protocol.ParseFraming(*framing)
	if err != nil {
		return nil, nil, err
	}
	ch := transport.NewChannel(transport.Options{Framing: f})
	d := dispatcher.New(ch, dispatcher.Options{CallTimeout: *timeout})
	central, err := peripheral.Dial(ctx, url, ch, *mtu)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}
	return d, func() {
		d.Shutdown(time.Second)
		central.Close()
		ch.Close()
	}, nil
}

func call(ctx context.Context, url, fn string, args json.RawMessage) error {
	d, closeFn, err := connect(ctx, url)
	if err != nil {
		return err
	}
	defer closeFn()

	var reply json.RawMessage
	if err := d.Call(ctx, fn, args, &reply); err != nil {
		return err
	}
	fmt.Println(string(reply))
	return nil
}

// setTime offers the phone's clock as an external reference and prints how
// the box's corrected clock compares.
func setTime(ctx context.Context, url string) error {
	d, closeFn, err := connect(ctx, url)
	if err != nil {
		return err
	}
	defer closeFn()

	var sample clock.SampleReply
	if err := d.Call(ctx, "clock_sample", clock.SampleArgs{Time: time.Now().UnixMilli()}, &sample); err != nil {
		return err
	}
	var now clock.NowReply
	if err := d.Call(ctx, "clock_now", nil, &now); err != nil {
		return err
	}
	boxTime := time.UnixMilli(now.Time)
	fmt.Printf("accepted=%v box=%s corrected=%v skew=%s\n",
		sample.Accepted, boxTime.Format(time.RFC3339Nano), now.Corrected, time.Until(boxTime).Round(time.Millisecond))
	return nil
}

func boxes(endpoints []string, follow bool) error {
	reg, err := registry.NewEtcdRegistry(endpoints)
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	list, err := reg.Discover(ctx)
	cancel()
	if err != nil {
		return err
	}
	printBoxes(list)

	if !follow {
		return nil
	}
	for list := range reg.Watch(context.Background()) {
		fmt.Println("--")
		printBoxes(list)
	}
	return nil
}

func printBoxes(list []registry.Instance) {
	for _, inst := range list {
		fmt.Printf("%s\t%s\t%s\t%d functions\n", inst.BoxID, inst.Addr, inst.Version, len(inst.Functions))
	}
}
