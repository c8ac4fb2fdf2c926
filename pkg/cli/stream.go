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

package cli

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// Stream reads frames from ws into out until the connection ends, then
// sends a DisconnectedMsg and closes out.
func Stream(ws *websocket.Conn, out chan<- tea.Msg) {
	defer close(out)

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}

			out <- DisconnectedMsg{Err: err}

			return
		}

		out <- FrameMsg(f)
	}
}
