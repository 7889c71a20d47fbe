// Command bcp-ctl talks BCP to a hub or companion from the terminal. It
// either dials and sends commands given as arguments, or listens and
// prints what arrives.
//
//	bcp-ctl -port 5051 'ball_start?player_num=int:1' 'mode_start?name=attract'
//	bcp-ctl -listen -port 5050
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bcphub/pkg/config"
	"bcphub/pkg/handshake"
	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/codec"
	"bcphub/pkg/transport"
	"bcphub/pkg/transports"
)

func main() {
	kind := flag.String("type", "tcp", "transport type: tcp|ws|quic|winpipe")
	host := flag.String("host", "127.0.0.1", "host, bind address or pipe path")
	port := flag.Int("port", 5050, "port")
	codecName := flag.String("codec", codec.Default, "codec: bcp|json|cbor|proto")
	listen := flag.Bool("listen", false, "listen and print received commands")
	sayHello := flag.Bool("hello", true, "send hello after connecting")
	wait := flag.Duration("wait", 2*time.Second, "how long to print replies after sending")
	timeout := flag.Duration("timeout", 5*time.Second, "dial timeout")
	flag.Parse()

	k, err := transports.Default().Resolve(*kind)
	if err != nil {
		fatalf("transport: %v", err)
	}
	c, err := codec.NewRegistry().Lookup(*codecName)
	if err != nil {
		fatalf("codec: %v", err)
	}
	ep := transport.Endpoint{Host: *host, Port: *port, Framing: c.Framing()}

	if *listen {
		serve(k, c, ep)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	st, err := k.Dial(ctx, ep)
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer st.Close()
	go printAll(st, c, fmt.Sprint(st.RemoteAddr()), false)

	if *sayHello {
		h := handshake.FromConfig(config.HelloConfig{ControllerName: "bcp-ctl"})
		send(st, c, h.Command())
	}
	for _, arg := range flag.Args() {
		cmd, err := protocol.DecodeLine([]byte(arg))
		if err != nil {
			fatalf("parse %q: %v", arg, err)
		}
		send(st, c, cmd)
	}
	time.Sleep(*wait)
	send(st, c, protocol.NewCommand(protocol.CmdGoodbye, nil))
}

func serve(k transport.Kind, c codec.Codec, ep transport.Endpoint) {
	ctx := context.Background()
	l, err := k.Listen(ctx, ep)
	if err != nil {
		fatalf("listen: %v", err)
	}
	defer l.Close()
	fmt.Printf("listening on %s (%s, %s)\n", l.Addr(), k.Name(), c.Name())
	for {
		st, err := l.Accept(ctx)
		if err != nil {
			fatalf("accept: %v", err)
		}
		go printAll(st, c, fmt.Sprint(st.RemoteAddr()), true)
	}
}

// printAll prints every received command and answers ping. In listen mode
// it also answers hello.
func printAll(st transport.Stream, c codec.Codec, from string, listening bool) {
	for {
		b, err := st.RecvBytes()
		if err != nil {
			fmt.Printf("[%s] closed: %v\n", from, err)
			return
		}
		cmd, err := c.Decode(b)
		if err != nil {
			fmt.Printf("[%s] undecodable frame: %v\n", from, err)
			continue
		}
		fmt.Printf("[%s] %s\n", from, cmd)
		switch cmd.Name {
		case protocol.CmdHello:
			if listening {
				send(st, c, handshake.FromConfig(config.HelloConfig{ControllerName: "bcp-ctl"}).Command())
			}
		case protocol.CmdPing:
			send(st, c, protocol.NewCommand(protocol.CmdPong, cmd.Params))
		}
	}
}

func send(st transport.Stream, c codec.Codec, cmd protocol.Command) {
	b, err := c.Encode(cmd)
	if err != nil {
		fatalf("encode %s: %v", cmd.Name, err)
	}
	if err := st.SendBytes(b); err != nil {
		fatalf("send %s: %v", cmd.Name, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
