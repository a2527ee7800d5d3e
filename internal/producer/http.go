package producer

import (
	"io"
	"net/http"

	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
)

type sendRandomRequest struct {
	DeviceID string `json:"deviceId"`
}

// Register adds the /producer routes through register.
func (p *Producer) Register(register func(pattern string, handler http.Handler)) {
	register("POST /producer/send-sample", http.HandlerFunc(p.handleSendSample))
	register("POST /producer/send-random", http.HandlerFunc(p.handleSendRandom))
	register("GET /producer/generate", http.HandlerFunc(p.handleGenerate))
}

func (p *Producer) handleSendSample(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, p.SendSample(r.Context()))
}

func (p *Producer) handleSendRandom(w http.ResponseWriter, r *http.Request) {
	var req sendRandomRequest
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err == nil && len(raw) > 0 {
		err = jsoncodec.Unmarshal(raw, &req)
	}
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = jsoncodec.Encode(w, Response{Message: "Invalid request body"})
		return
	}
	writeResponse(w, p.SendRandom(r.Context(), req.DeviceID))
}

func (p *Producer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, p.SendRandom(r.Context(), r.URL.Query().Get("deviceId")))
}

func writeResponse(w http.ResponseWriter, res Response) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, res)
}
