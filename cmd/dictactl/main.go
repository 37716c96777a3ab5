// dictactl drives a running dictad over the bus: session control,
// document operations, status, and utterance injection for development.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

var version = "0.1.0-dev"

func main() {
	var (
		servers string
		timeout time.Duration
	)

	flag.StringVar(&servers, "servers", defaultServers(), "Comma-separated NATS server URLs")
	flag.DurationVar(&timeout, "timeout", 3*time.Second, "Request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if args[0] == "version" {
		fmt.Println(version)
		return
	}

	conn, err := nats.Connect(servers, nats.Name("dictactl"), nats.Timeout(timeout))
	if err != nil {
		fatal(fmt.Errorf("connect to %s: %w", servers, err))
	}
	defer conn.Close()

	c := &client{conn: conn, timeout: timeout}

	switch args[0] {
	case "status":
		c.request(protocol.SubjectCtlStatus, nil)
	case "toggle":
		c.request(protocol.SubjectCtlSessionToggle, nil)
	case "start":
		c.request(protocol.SubjectCtlSessionStart, nil)
	case "stop":
		c.request(protocol.SubjectCtlSessionStop, nil)
	case "say":
		runSay(c, args[1:])
	case "copy":
		c.request(protocol.SubjectCtlCopy, nil)
	case "doc":
		runDoc(c, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		os.Exit(2)
	}
}

type client struct {
	conn    *nats.Conn
	timeout time.Duration
}

// request sends one request and prints the reply. A reply carrying
// ok=false exits non-zero after printing, so scripts can branch on it.
func (c *client) request(subject string, payload any) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			fatal(err)
		}
	}

	msg, err := c.conn.Request(subject, data, c.timeout)
	if err != nil {
		fatal(fmt.Errorf("request %s: %w", subject, err))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, msg.Data, "", "  "); err != nil {
		fmt.Println(string(msg.Data))
	} else {
		fmt.Println(pretty.String())
	}

	var status struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(msg.Data, &status); err == nil && !status.OK {
		os.Exit(1)
	}
}

// runSay publishes each phrase as an utterance, exactly as the session
// controller would after recognition.
func runSay(c *client, phrases []string) {
	if len(phrases) == 0 {
		fatal(errors.New("say requires at least one phrase"))
	}
	for _, phrase := range phrases {
		utt := protocol.Utterance{
			SessionID:  "dictactl",
			Text:       phrase,
			CapturedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(utt)
		if err != nil {
			fatal(err)
		}
		if err := c.conn.Publish(protocol.SubjectUtterance, data); err != nil {
			fatal(err)
		}
	}
	if err := c.conn.Flush(); err != nil {
		fatal(err)
	}
	fmt.Printf("published %d utterance(s)\n", len(phrases))
}

func runDoc(c *client, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "expected a doc subcommand: list, create, close, rename, select, write")
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		c.request(protocol.SubjectCtlDocList, nil)
	case "create":
		c.request(protocol.SubjectCtlDocCreate, nil)
	case "close":
		fs := flag.NewFlagSet("doc close", flag.ExitOnError)
		id := fs.String("id", "", "Document id")
		fs.Parse(args[1:])
		mustFlag(*id, "id")
		c.request(protocol.SubjectCtlDocClose, protocol.CloseDocumentRequest{ID: *id})
	case "rename":
		fs := flag.NewFlagSet("doc rename", flag.ExitOnError)
		id := fs.String("id", "", "Document id")
		title := fs.String("title", "", "New title")
		fs.Parse(args[1:])
		mustFlag(*id, "id")
		c.request(protocol.SubjectCtlDocRename, protocol.RenameDocumentRequest{ID: *id, Title: *title})
	case "select":
		fs := flag.NewFlagSet("doc select", flag.ExitOnError)
		id := fs.String("id", "", "Document id")
		fs.Parse(args[1:])
		mustFlag(*id, "id")
		c.request(protocol.SubjectCtlDocSelect, protocol.SelectDocumentRequest{ID: *id})
	case "write":
		fs := flag.NewFlagSet("doc write", flag.ExitOnError)
		id := fs.String("id", "", "Document id")
		content := fs.String("content", "", "Replacement content")
		fs.Parse(args[1:])
		mustFlag(*id, "id")
		c.request(protocol.SubjectCtlDocWrite, protocol.WriteDocumentRequest{ID: *id, Content: *content})
	default:
		fmt.Fprintf(os.Stderr, "unknown doc subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func mustFlag(value, name string) {
	if value == "" {
		fmt.Fprintf(os.Stderr, "missing required flag -%s\n", name)
		os.Exit(2)
	}
}

func defaultServers() string {
	if v := os.Getenv("DICTA_BUS_SERVERS"); v != "" {
		return v
	}
	return nats.DefaultURL
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: dictactl [flags] <command>

Commands:
  status                       Show documents, active id, and session state
  toggle | start | stop        Control the listening session
  say <phrase> [<phrase> ...]  Publish utterances as if spoken
  copy                         Copy the active document to the clipboard
  doc list                     List open documents
  doc create                   Open a new document
  doc close -id <id>           Close a document
  doc rename -id <id> -title <title>
  doc select -id <id>          Switch the active document
  doc write -id <id> -content <text>
  version                      Print version

Flags:
`)
	flag.PrintDefaults()
}
