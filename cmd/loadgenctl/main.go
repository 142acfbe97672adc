// loadgenctl is a thin CLI for a running loadgen's dashboard API:
//
//	loadgenctl -addr localhost:8880 status
//	loadgenctl -addr localhost:8880 summary
//	loadgenctl -addr localhost:8880 watch
//
// status and summary print one JSON document; watch streams live
// snapshots over the dashboard's websocket until interrupted.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

var flagAddr = flag.String("addr", "localhost:8880", "dashboard address")

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: loadgenctl [-addr host:port] status|summary|watch")
		os.Exit(2)
	}

	switch flag.Arg(0) {
	case "status":
		get("/api/v1/status")
	case "summary":
		get("/api/v1/summary")
	case "watch":
		watch()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		os.Exit(2)
	}
}

func get(path string) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + *flagAddr + path)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("unexpected status: %s", resp.Status)
	}
	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		log.Fatalf("read failed: %v", err)
	}
	fmt.Println()
}

func watch() {
	u := url.URL{Scheme: "ws", Host: *flagAddr, Path: "/live"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fmt.Println(string(msg))
		}
	}()

	select {
	case <-interrupt:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
	}
}
