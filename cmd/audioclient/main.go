// Command audioclient uploads an audio file for transcription while printing
// the progress frames the service broadcasts.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Status   string `json:"status"`
	Data     string `json:"data"`
	JobID    string `json:"jobId"`
	Error    string `json:"error"`
	Progress *int   `json:"progress"`
}

func main() {
	audioFile := flag.String("audio", "", "Path to the audio file to transcribe")
	serverURL := flag.String("server", "http://localhost:8001", "Service base URL")
	contentType := flag.String("type", "", "Audio content type (guessed from the extension when empty)")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall request timeout")
	flag.Parse()

	if *audioFile == "" {
		log.Fatal("-audio is required")
	}

	base, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}

	ct := *contentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(*audioFile))
	}
	if ct == "" {
		ct = "audio/wav"
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Subscribe before uploading so the initial 0 is not missed.
	wsURL := *base
	wsURL.Scheme = "ws"
	if base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect to progress channel: %v", err)
	}
	defer conn.Close()

	go watch(conn)

	start := time.Now()
	body, err := upload(ctx, base.JoinPath("transcribe").String(), *audioFile, ct)
	if err != nil {
		log.Fatalf("Transcription failed: %v", err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Write(body)
	}
	log.Printf("Transcribed in %v", time.Since(start).Round(time.Millisecond))
	fmt.Println(out.String())
}

// watch prints progress frames until the connection closes.
func watch(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch {
		case f.Progress != nil:
			log.Printf("job %s: %3d%%", f.JobID, *f.Progress)
		case f.Status == "failed":
			log.Printf("job %s failed: %s", f.JobID, f.Error)
		default:
			log.Printf("status: %s", f.Status)
		}
	}
}

func upload(ctx context.Context, endpoint, path, contentType string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     "file",
			"filename": filepath.Base(path),
		}))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}
