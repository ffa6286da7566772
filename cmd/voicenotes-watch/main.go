// voicenotes-watch follows a transcription job from the command line,
// printing progress as it streams in and the transcript when it lands. If
// the event stream keeps dropping it silently degrades to status polling.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Shenoy37/voicenotes/internal/client"
	"github.com/Shenoy37/voicenotes/internal/events"
)

func main() {
	var (
		server  = flag.String("server", "http://localhost:8080", "voicenotes server base URL")
		token   = flag.String("token", os.Getenv("VOICENOTES_SESSION"), "session token (defaults to $VOICENOTES_SESSION)")
		timeout = flag.Duration("timeout", 10*time.Minute, "give up after this long")
	)
	flag.Parse()

	jobID := flag.Arg(0)
	if jobID == "" {
		fmt.Fprintln(os.Stderr, "usage: voicenotes-watch [flags] <job-id>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *token == "" {
		log.Fatal("No session token: pass -token or set VOICENOTES_SESSION")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	w := client.New(client.Options{
		BaseURL:      *server,
		SessionToken: *token,
	})

	final, err := w.Watch(ctx, jobID, func(ev events.Event) {
		switch ev.Type {
		case events.TypeConnected:
			fmt.Printf("connected (%s)\n", w.State())
		case events.TypePing:
			// keep-alives are noise at the terminal
		case events.TypeJobProgress:
			fmt.Printf("%-13s %3.0f%%\n", ev.Status, ev.Progress)
		}
	})
	if err != nil {
		log.Fatalf("Watch failed: %v", err)
	}

	switch final.Type {
	case events.TypeJobCompleted:
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(final.Result, &payload); err == nil && payload.Text != "" {
			fmt.Println(payload.Text)
		} else {
			fmt.Printf("%s\n", final.Result)
		}
	case events.TypeJobError:
		log.Fatalf("Job %s: %s (%s)", final.JobID, final.Message, final.Status)
	}
}
