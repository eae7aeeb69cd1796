package utils

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/Iemontine/microblog/apperr"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// WriteError maps err's kind to a status code and a JSON body.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal || kind == apperr.StorageIO {
		log.Printf("Request failed: %v", err)
	}
	WriteJSON(w, apperr.HTTPStatus(kind), map[string]string{
		"error": apperr.Message(err),
		"kind":  string(kind),
	})
}
