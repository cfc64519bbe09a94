// Package main runs a demo WebSocket client that submits a run and prints
// its events until the run finishes.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	file := flag.String("instance", "", "Solomon (.txt) or JSON (.json) instance file")
	cfg := flag.String("config", "", `run config overrides as JSON, e.g. {"k":3}`)
	flag.Parse()
	if *file == "" {
		log.Fatal("usage: ws_client -instance <file> [-config <json>]")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	host := "localhost:" + port
	base := "http://" + host

	body, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal(err)
	}
	ctype := "text/plain"
	if filepath.Ext(*file) == ".json" {
		ctype = "application/json"
	}
	var inst struct {
		ID string `json:"id"`
	}
	post(base+"/v1/instances", ctype, body, &inst)
	log.WithField("instance", inst.ID).Info("instance stored")

	req := map[string]any{"instanceId": inst.ID}
	if *cfg != "" {
		req["config"] = json.RawMessage(*cfg)
	}
	rb, _ := json.Marshal(req)
	var run struct {
		ID string `json:"id"`
	}
	post(base+"/v1/runs", "application/json", rb, &run)
	log.WithField("run", run.ID).Info("run queued")

	u := url.URL{Scheme: "ws", Host: host, Path: "/v1/runs/" + run.ID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer func() { _ = c.Close() }()

	for {
		var m wsMessage
		if err := c.ReadJSON(&m); err != nil {
			log.WithError(err).Warn("read")
			return
		}
		if m.Type == "complete" {
			log.Info("run finished")
			return
		}
		var evt struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		_ = json.Unmarshal(m.Payload, &evt)
		fmt.Printf("%s %s\n", evt.Type, evt.Data)
	}
}

func post(url, ctype string, body []byte, out any) {
	resp, err := http.Post(url, ctype, bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		var p map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&p)
		log.Fatalf("POST %s: %s %v", url, resp.Status, p["detail"])
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatal(err)
	}
}
