package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// maxAssetSize bounds one uploaded asset (decoded) at 32 MiB.
const maxAssetSize = 32 << 20

type uploadAssetRequest struct {
	Key  string `json:"key"`
	MIME string `json:"mime"`
	Data string `json:"data"`
}

type uploadAssetResponse struct {
	URL string `json:"url"`
}

// UploadAsset stores raw asset bytes under the requested key and answers
// with the URL the asset is served from. The engine uses this for stamped
// back covers.
func (a *App) UploadAsset(w http.ResponseWriter, r *http.Request) {
	var req uploadAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "key required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "data must be base64")
		return
	}
	if len(data) == 0 || len(data) > maxAssetSize {
		a.error(w, http.StatusBadRequest, "bad_request", "asset size out of bounds")
		return
	}

	key, err := a.Assets.Write(r.Context(), req.Key, data)
	if err != nil {
		a.Logger.Error().Err(err).Str("key", req.Key).Msg("write asset failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store asset")
		return
	}
	a.json(w, http.StatusCreated, uploadAssetResponse{
		URL: fmt.Sprintf("%s/%s", strings.TrimRight(a.AssetBaseURL, "/"), key),
	})
}
