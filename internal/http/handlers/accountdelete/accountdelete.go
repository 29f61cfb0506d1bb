// Package accountdelete accepts an account deletion request and hands it to
// the queue. The deletion itself runs as the phase-ordered background job;
// the handler only acknowledges that it was enqueued.
package accountdelete

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/hookvault/hookvault/internal/http/response"
	"github.com/hookvault/hookvault/internal/lib/sl"
	"github.com/hookvault/hookvault/internal/tasks"
)

type Handler struct {
	log      *slog.Logger
	pub      TaskPublisher
	validate *validator.Validate
}

type TaskPublisher interface {
	Publish(routingKey string, message any) error
}

func New(log *slog.Logger, pub TaskPublisher) *Handler {
	return &Handler{
		log:      log,
		pub:      pub,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.accountdelete"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := chi.URLParam(r, "userId")
	if err := h.validate.Var(userID, "required,uuid"); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error(response.CodeInvalidBody))
		return
	}

	err := h.pub.Publish(tasks.KeyAccount, tasks.AccountDeletionTask{
		UserID: userID,
		Phase:  tasks.PhaseRequests,
	})
	if err != nil {
		log.Error("failed to enqueue account deletion", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error(response.CodeInternal))
		return
	}

	log.Info("account deletion enqueued", slog.String("user_id", userID))
	w.WriteHeader(http.StatusAccepted)
	render.JSON(w, r, response.OK())
}
