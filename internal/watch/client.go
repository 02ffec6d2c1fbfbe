package watch

import (
	"bufio"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/events"
)

type eventMsg events.Event
type tickMsg time.Time
type errMsg error
type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents connects to the broker's /events SSE feed and feeds
// events into ch. No auth header: the route is loopback-only and
// unauthenticated.
func subscribeToEvents(baseURL string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{}
		req, err := http.NewRequest(http.MethodGet, baseURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var current struct {
			id   int64
			typ  string
			data string
		}

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if current.data != "" {
					ch <- events.Event{ID: current.id, Type: current.typ, At: time.Now(), Data: []byte(current.data)}
					current.id, current.typ, current.data = 0, "", ""
				}
				continue
			}
			switch {
			case strings.HasPrefix(line, "id: "):
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.id = id
				}
			case strings.HasPrefix(line, "event: "):
				current.typ = line[7:]
			case strings.HasPrefix(line, "data: "):
				current.data = line[6:]
			}
		}

		return sseDisconnectedMsg{}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
