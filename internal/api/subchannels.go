package api

import (
	"net/http"
)

// SubchannelView is the JSON representation of one subchannel.
type SubchannelView struct {
	ID     string `json:"id"`
	Device string `json:"device,omitempty"`
	PIM    uint8  `json:"pim"`
	PAM    uint8  `json:"pam"`
	POM    uint8  `json:"pom"`
	OPM    uint8  `json:"opm"`
	LPM    uint8  `json:"lpm"`
}

// handleListSubchannels returns the path masks and binding of every
// known subchannel.
func (s *Server) handleListSubchannels(w http.ResponseWriter, _ *http.Request) {
	subchannels := s.core.Registry().Subchannels()
	views := make([]SubchannelView, 0, len(subchannels))
	for _, sch := range subchannels {
		masks := sch.Masks()
		v := SubchannelView{
			ID:  sch.ID.String(),
			PIM: masks.PIM,
			PAM: masks.PAM,
			POM: masks.POM,
			OPM: masks.OPM,
			LPM: masks.LPM,
		}
		if dev := sch.Device(); dev != nil {
			v.Device = dev.ID.String()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subchannels": views,
		"count":       len(views),
	})
}
