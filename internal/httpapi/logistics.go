package httpapi

import "net/http"

func (s *Server) handleSearchLogistics(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order_id")
	candidates, err := s.logistics.SearchCandidates(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]candidateDTO, 0, len(candidates))
	for _, c := range candidates {
		dtos = append(dtos, newCandidateDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

type assignmentActionResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
}

func (s *Server) handleAcceptAssignment(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	assignmentID := r.PathValue("id")

	o, _, err := s.logistics.AcceptAssignment(r.Context(), assignmentID, claims.MiddlemanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentActionResponse{OK: true, Status: string(o.Status)})
}

func (s *Server) handleRejectAssignment(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	assignmentID := r.PathValue("id")

	if _, err := s.logistics.RejectAssignment(r.Context(), assignmentID, claims.MiddlemanID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentActionResponse{OK: true})
}
