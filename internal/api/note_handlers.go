package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Shenoy37/voicenotes/internal/store"
)

type notePayload struct {
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Category *string `json:"category"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	var payload notePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if payload.Title == "" {
		RespondWithError(w, http.StatusBadRequest, "Title is required")
		return
	}

	note, err := s.store.CreateNote(user.ID, payload.Title, payload.Body, payload.Category)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to create note")
		return
	}
	RespondWithJSON(w, http.StatusCreated, note)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	category := r.URL.Query().Get("category")
	tag := r.URL.Query().Get("tag")

	notes, err := s.store.ListNotes(user.ID, category, tag)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve notes")
		return
	}
	RespondWithJSON(w, http.StatusOK, notes)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	noteID, _ := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)

	note, err := s.store.GetNote(noteID, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Note not found")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve note")
		return
	}
	RespondWithJSON(w, http.StatusOK, note)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	noteID, _ := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)

	var payload notePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := s.store.UpdateNote(noteID, user.ID, payload.Title, payload.Body, payload.Category); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Note not found")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "Failed to update note")
		return
	}

	note, err := s.store.GetNote(noteID, user.ID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve updated note")
		return
	}
	RespondWithJSON(w, http.StatusOK, note)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	noteID, _ := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)

	if err := s.store.DeleteNote(noteID, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Note not found")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete note")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddTagToNote(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	noteID, _ := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)

	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Name == "" {
		RespondWithError(w, http.StatusBadRequest, "Tag name is required")
		return
	}

	tag, err := s.store.AddTagToNote(noteID, user.ID, payload.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Note not found")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "Failed to add tag")
		return
	}
	RespondWithJSON(w, http.StatusCreated, tag)
}

func (s *Server) handleRemoveTagFromNote(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	noteID, _ := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)
	tagID, _ := strconv.ParseInt(chi.URLParam(r, "tagID"), 10, 64)

	if err := s.store.RemoveTagFromNote(noteID, user.ID, tagID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Tag not found on note")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "Failed to remove tag")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve tags")
		return
	}
	RespondWithJSON(w, http.StatusOK, tags)
}
