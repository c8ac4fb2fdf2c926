/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command stream-client shows the live node table of a NovaComm core.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/carverauto/novacomm/pkg/cli"
	"github.com/carverauto/novacomm/pkg/version"
)

func main() {
	var (
		host        = flag.String("host", "localhost:8090", "Core server host:port")
		secure      = flag.Bool("secure", false, "Use WSS instead of WS")
		origin      = flag.String("origin", "", "Origin header to send, for cores with an origin allow-list")
		plain       = flag.Bool("plain", false, "Print raw events as JSON lines instead of the table")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return
	}

	scheme := "ws"
	if *secure {
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: *host, Path: "/ws"}

	header := http.Header{}
	if *origin != "" {
		header.Set("Origin", *origin)
	}

	ws, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if resp != nil {
			log.Printf("HTTP response status: %s", resp.Status)
		}

		log.Fatalf("Failed to connect to %s: %v", u.String(), err)
	}
	defer ws.Close()

	frames := make(chan tea.Msg, 256)
	go cli.Stream(ws, frames)

	if *plain {
		printFrames(frames)
		return
	}

	if _, err := tea.NewProgram(cli.NewViewer(u.String(), frames), tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("Viewer failed: %v", err)
	}
}

func printFrames(frames <-chan tea.Msg) {
	enc := json.NewEncoder(os.Stdout)

	for msg := range frames {
		switch m := msg.(type) {
		case cli.FrameMsg:
			if err := enc.Encode(cli.Frame(m)); err != nil {
				log.Printf("Failed to print event: %v", err)
			}
		case cli.DisconnectedMsg:
			if m.Err != nil {
				log.Printf("Stream ended: %v", m.Err)
			}

			return
		}
	}
}
