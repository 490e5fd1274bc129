// Command routingclient is a minimal example client: it subscribes, prints
// every routed object it receives, and can publish one object. It
// exercises only the wire and object packages.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/biomine3000/routingbroker/object"
	"github.com/biomine3000/routingbroker/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7890", "broker address")
	subs := flag.String("subscribe", "*", "comma-separated subscription rules")
	event := flag.String("event", "", "if set, publish one object with this event after subscribing")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	rules := strings.Split(*subs, ",")
	ruleVals := make([]any, len(rules))
	for i, r := range rules {
		ruleVals[i] = r
	}

	sub := object.New()
	sub.Event = "routing/subscribe"
	sub.Metadata["subscriptions"] = ruleVals
	if err := writeObject(conn, sub); err != nil {
		fmt.Fprintln(os.Stderr, "subscribe:", err)
		os.Exit(1)
	}

	if *event != "" {
		msg := object.New()
		msg.Event = *event
		if err := writeObject(conn, msg); err != nil {
			fmt.Fprintln(os.Stderr, "publish:", err)
			os.Exit(1)
		}
	}

	readLoop(conn)
}

func writeObject(conn net.Conn, o *object.Object) error {
	enc, err := wire.Encode(o)
	if err != nil {
		return err
	}
	_, err = conn.Write(enc)
	return err
}

func readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	dec := wire.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			derr := dec.Drain(func(o *object.Object) {
				fmt.Printf("<- %s\n", o)
			})
			if derr != nil {
				fmt.Fprintln(os.Stderr, "decode:", derr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}
