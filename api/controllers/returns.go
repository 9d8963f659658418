package controllers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/api/responses"
	"github.com/angelmondragon/escrow-backend/api/validators"
	"github.com/angelmondragon/escrow-backend/internal/actors"
	"github.com/angelmondragon/escrow-backend/internal/returns"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/storage/gcs"
)

const multipartMemory = 8 << 20

// ReturnService is the return workflow surface exposed over HTTP.
type ReturnService interface {
	Get(ctx context.Context, actor actors.Actor, returnID uuid.UUID) (*models.Return, error)
	GetForPurchase(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID) (*models.Return, error)
	Request(ctx context.Context, actor actors.Actor, input returns.RequestInput) (*models.Return, error)
	Respond(ctx context.Context, actor actors.Actor, input returns.RespondInput) (*models.Return, error)
	MarkReturnShipped(ctx context.Context, actor actors.Actor, input returns.MarkShippedInput) (*models.Return, error)
	ConfirmReceipt(ctx context.Context, actor actors.Actor, returnID uuid.UUID) (*models.Return, error)
}

type respondReturnRequest struct {
	Accept *bool  `json:"accept" validate:"required"`
	Note   string `json:"note" validate:"max=1000"`
}

type returnShippedRequest struct {
	Carrier        string `json:"carrier" validate:"required,max=64"`
	TrackingNumber string `json:"tracking_number" validate:"required,max=128"`
}

// RequestReturn takes a multipart form: reason, description and up to six
// photos under the "photos" field. maxBodyBytes caps the whole upload.
func RequestReturn(svc ReturnService, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaseID, err := validators.PathUUID(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if maxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "upload too large").
					WithDetails(map[string]any{"max_bytes": maxBodyBytes}))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart form"))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		headers := r.MultipartForm.File["photos"]
		if len(headers) > returns.MaxEvidencePhotos {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "too many photos").
				WithDetails(map[string]any{"max": returns.MaxEvidencePhotos}))
			return
		}
		photos, closeAll, err := openPhotos(headers)
		defer closeAll()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ret, err := svc.Request(r.Context(), actor, returns.RequestInput{
			PurchaseID:  purchaseID,
			Reason:      validators.SanitizeString(r.FormValue("reason"), 120),
			Description: validators.SanitizeString(r.FormValue("description"), 2000),
			Photos:      photos,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toReturnResponse(ret))
	}
}

func openPhotos(headers []*multipart.FileHeader) ([]gcs.File, func(), error) {
	opened := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	files := make([]gcs.File, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, closeAll, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable photo")
		}
		opened = append(opened, f)
		files = append(files, gcs.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        f,
		})
	}
	return files, closeAll, nil
}

// returnAction adapts operations addressed by returnId.
func returnAction(logg *logger.Logger, status int, run func(ctx context.Context, actor actors.Actor, id uuid.UUID, r *http.Request) (*models.Return, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		returnID, err := validators.PathUUID(r, "returnId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ret, err := run(r.Context(), actor, returnID, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, status, toReturnResponse(ret))
	}
}

func GetReturn(svc ReturnService, logg *logger.Logger) http.HandlerFunc {
	return returnAction(logg, http.StatusOK, func(ctx context.Context, actor actors.Actor, id uuid.UUID, _ *http.Request) (*models.Return, error) {
		return svc.Get(ctx, actor, id)
	})
}

// GetPurchaseReturn returns the latest return opened on a purchase.
func GetPurchaseReturn(svc ReturnService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaseID, err := validators.PathUUID(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ret, err := svc.GetForPurchase(r.Context(), actor, purchaseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toReturnResponse(ret))
	}
}

func RespondReturn(svc ReturnService, logg *logger.Logger) http.HandlerFunc {
	return returnAction(logg, http.StatusOK, func(ctx context.Context, actor actors.Actor, id uuid.UUID, r *http.Request) (*models.Return, error) {
		var req respondReturnRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return nil, err
		}
		return svc.Respond(ctx, actor, returns.RespondInput{
			ReturnID: id,
			Accept:   *req.Accept,
			Note:     validators.SanitizeString(req.Note, 1000),
		})
	})
}

func MarkReturnShipped(svc ReturnService, logg *logger.Logger) http.HandlerFunc {
	return returnAction(logg, http.StatusOK, func(ctx context.Context, actor actors.Actor, id uuid.UUID, r *http.Request) (*models.Return, error) {
		var req returnShippedRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return nil, err
		}
		return svc.MarkReturnShipped(ctx, actor, returns.MarkShippedInput{
			ReturnID:       id,
			Carrier:        validators.SanitizeString(req.Carrier, 64),
			TrackingNumber: validators.SanitizeString(req.TrackingNumber, 128),
		})
	})
}

// ConfirmReturnReceipt refunds the buyer once the seller has the item back.
func ConfirmReturnReceipt(svc ReturnService, logg *logger.Logger) http.HandlerFunc {
	return returnAction(logg, http.StatusOK, func(ctx context.Context, actor actors.Actor, id uuid.UUID, _ *http.Request) (*models.Return, error) {
		return svc.ConfirmReceipt(ctx, actor, id)
	})
}
