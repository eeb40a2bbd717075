package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/martpoint/promo-engine/internal/domain/calc"
)

// Calculate computes the discounted price breakdown for a cart.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCalculateRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	result, err := h.calculator.Calculate(r.Context(), req)
	if err != nil {
		var verr *calc.ValidationError
		switch {
		case errors.Is(err, calc.ErrEmptyCart):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.As(err, &verr):
			writeError(w, r, http.StatusUnprocessableEntity, verr.Error())
		default:
			zctx.From(r.Context()).Error("calculate", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "calculation failed")
		}
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		encodeResult(e, result)
	})
}

func decodeCalculateRequest(r *http.Request) (calc.Request, error) {
	var req calc.Request

	d := jx.Decode(http.MaxBytesReader(nil, r.Body, maxBodySize), 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				line, err := decodeCartLine(d)
				if err != nil {
					return err
				}
				req.Lines = append(req.Lines, line)
				return nil
			})
		case "paymentMethod":
			v, err := d.Str()
			req.PaymentMethod = v
			return err
		case "asOfDate":
			v, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return errors.Wrap(err, "asOfDate")
			}
			req.AsOf = t
			return nil
		default:
			return d.Skip()
		}
	})
	return req, err
}

func decodeCartLine(d *jx.Decoder) (calc.CartLine, error) {
	var line calc.CartLine
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "barcode":
			v, err := d.Str()
			line.Barcode = v
			return err
		case "quantity":
			v, err := d.Int()
			line.Quantity = v
			return err
		case "unitPrice":
			v, err := decodeAmount(d)
			line.UnitPrice = v
			return err
		case "category":
			v, err := d.Str()
			line.Category = v
			return err
		case "brand":
			v, err := d.Str()
			line.Brand = v
			return err
		case "selectedDiscountIds":
			v, err := decodeStrings(d)
			line.SelectedDiscountIDs = v
			return err
		default:
			return d.Skip()
		}
	})
	return line, err
}

func encodeResult(e *jx.Encoder, res *calc.Result) {
	e.ObjStart()

	e.FieldStart("lines")
	e.ArrStart()
	for i := range res.Lines {
		line := &res.Lines[i]
		e.ObjStart()
		e.FieldStart("barcode")
		e.Str(line.Barcode)
		e.FieldStart("original")
		encodeAmount(e, line.Original)
		e.FieldStart("final")
		encodeAmount(e, line.Final)
		e.FieldStart("appliedDiscounts")
		e.ArrStart()
		for _, a := range line.Applied {
			e.ObjStart()
			e.FieldStart("discountId")
			e.Str(a.RuleID)
			e.FieldStart("amount")
			encodeAmount(e, a.Amount)
			if a.FreeUnits > 0 {
				e.FieldStart("freeUnits")
				e.Int(a.FreeUnits)
			}
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("totals")
	e.ObjStart()
	e.FieldStart("original")
	encodeAmount(e, res.Totals.Original)
	e.FieldStart("final")
	encodeAmount(e, res.Totals.Final)
	e.FieldStart("discount")
	encodeAmount(e, res.Totals.Discount)
	e.FieldStart("discountRate")
	encodeAmount(e, res.Totals.DiscountRate)
	e.ObjEnd()

	if len(res.Warnings) > 0 {
		e.FieldStart("warnings")
		e.ArrStart()
		for _, warning := range res.Warnings {
			e.Str(warning)
		}
		e.ArrEnd()
	}

	e.ObjEnd()
}
