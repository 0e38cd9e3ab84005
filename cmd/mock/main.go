// Command mock is a stand-in OCR service for local runs. Native-language
// requests return the item name followed by the purchase message; numeric
// requests return the price.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"image/png"
	"log"
	"math/rand"
	"net/http"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	name := flag.String("name", "弹药箱", "text returned for the name region")
	price := flag.String("price", "1,080", "text returned for the price region")
	message := flag.String("message", "购买成功", "text returned for the message region")
	failRate := flag.Float64("fail-rate", 0, "fraction of OCR calls answered with 503")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"langs": []string{"ch", "en"}},
		})
	})

	mux.HandleFunc("/mock/ocr", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Image string `json:"image"`
			Lang  string `json:"lang"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
			return
		}
		raw, err := base64.StdEncoding.DecodeString(body.Image)
		if err == nil {
			_, err = png.Decode(bytes.NewReader(raw))
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "image is not a base64 png"})
			return
		}

		if *failRate > 0 && rand.Float64() < *failRate {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "busy"})
			return
		}

		var texts []map[string]any
		switch body.Lang {
		case "en":
			texts = append(texts, map[string]any{"text": *price, "confidence": 0.98})
		case "ch":
			texts = append(texts,
				map[string]any{"text": *name, "confidence": 0.95},
				map[string]any{"text": *message, "confidence": 0.93},
			)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "unsupported lang " + body.Lang})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": texts})
	})

	log.Printf("mock ocr listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
