// Test oracle server: a fake transcription and note-generation backend
// for local development.
//
// Usage: go run test_oracle_server.go [port]
//
// Endpoints:
//
//	POST /transcribe - accepts a multipart WAV chunk, returns canned text
//	POST /generate   - accepts a transcript, streams a SOAP note document
//	                   as newline-delimited JSON tokens
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

var phrases = []string{
	"Patient presents with a three day history of productive cough.",
	"Denies fever or chills.",
	"Reports mild shortness of breath on exertion.",
	"Currently taking lisinopril ten milligrams daily.",
	"Lungs with scattered rhonchi bilaterally.",
	"No lower extremity edema.",
	"",
	"Will start azithromycin and recheck in one week.",
}

func main() {
	port := "9090"
	if len(os.Args) > 1 {
		port = os.Args[1]
	}

	http.HandleFunc("/transcribe", handleTranscribe)
	http.HandleFunc("/generate", handleGenerate)

	log.Printf("test oracle server listening on :%s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}

// handleTranscribe returns canned text keyed by the chunk's sequence
// index. Every eighth chunk transcribes to empty text, which is a valid
// outcome the pipeline must absorb.
func handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing audio file", http.StatusBadRequest)
		return
	}
	file.Close()

	seq, _ := strconv.Atoi(r.FormValue("sequence_index"))
	text := phrases[seq%len(phrases)]

	// Simulate variable recognition latency so responses resolve out
	// of order under concurrent load.
	time.Sleep(time.Duration(50+seq%3*120) * time.Millisecond)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sequence_index": seq,
		"text":           text,
		"confidence":     0.92,
		"language":       "en",
	})

	log.Printf("transcribe seq=%d -> %q", seq, text)
}

// handleGenerate streams a SOAP note document token by token.
func handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	doc := buildNote(req.Transcript)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)

	// Emit the document in small slices so the client exercises its
	// speculative parse on every token.
	for i := 0; i < len(doc); i += 12 {
		end := i + 12
		if end > len(doc) {
			end = len(doc)
		}
		enc.Encode(map[string]any{"token": doc[i:end]})
		flusher.Flush()
		time.Sleep(20 * time.Millisecond)
	}

	enc.Encode(map[string]any{"token": "", "done": true})
	flusher.Flush()

	log.Printf("generate transcript_chars=%d note_bytes=%d", len(req.Transcript), len(doc))
}

// buildNote produces a deterministic SOAP note document whose content
// grows with the transcript.
func buildNote(transcript string) string {
	subjective := "Patient interview in progress."
	if transcript != "" {
		subjective = transcript
	}

	assessment := "Assessment pending further information."
	if strings.Contains(strings.ToLower(transcript), "cough") {
		assessment = "Likely acute bronchitis."
	}

	note := map[string]any{
		"metadata": map[string]any{
			"patient_name":     "Test Patient",
			"clinician_name":   "Dr. Oracle",
			"visit_timestamp":  time.Now().UTC().Format(time.RFC3339),
			"chief_complaint":  "cough",
			"medications_list": []string{"lisinopril 10mg daily"},
		},
		"subjective": subjective,
		"objective":  "Vitals stable. Lungs with scattered rhonchi.",
		"assessment": assessment,
		"plan":       "Azithromycin five day course. Recheck in one week.",
	}

	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}
