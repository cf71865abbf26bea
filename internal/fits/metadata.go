package fits

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"void/internal/geometry"
	"void/internal/record"
)

// ExtractMetadata reads the observation fields needed to compute a footprint.
// The pointing comes from the WCS reference (CRVAL1/2) when present, falling
// back to the mount coordinates OBJCTRA (hours) and OBJCTDEC.
func ExtractMetadata(h *Header, defaultObserver string) (record.HeaderData, error) {
	var out record.HeaderData
	var err error

	if out.DateObs, err = h.String("DATE-OBS"); err != nil {
		return out, err
	}
	if out.Exposure, err = firstFloat(h, "EXPTIME", "EXPOSURE"); err != nil {
		return out, err
	}
	if focus, err := h.Int("FOCUSPOS"); err == nil {
		out.Focus = &focus
	}

	if out.RACenter, out.DecCenter, err = center(h); err != nil {
		return out, err
	}
	xScale, yScale, err := pixelScale(h)
	if err != nil {
		return out, err
	}
	nx, err := h.Float("NAXIS1")
	if err != nil {
		return out, err
	}
	ny, err := h.Float("NAXIS2")
	if err != nil {
		return out, err
	}
	out.XDegSize = nx * math.Abs(xScale)
	out.YDegSize = ny * math.Abs(yScale)
	out.PosAngle = positionAngle(h)

	out.Observer = defaultObserver
	if obs, err := h.String("OBSERVER"); err == nil && strings.TrimSpace(obs) != "" {
		out.Observer = strings.TrimSpace(obs)
	}
	return out, nil
}

// Footprint computes the sky footprint described by the header data.
func Footprint(d record.HeaderData) geometry.Footprint {
	return geometry.CalculatePoly(
		geometry.Point{X: d.RACenter, Y: d.DecCenter},
		d.XDegSize, d.YDegSize, d.PosAngle,
	)
}

func center(h *Header) (float64, float64, error) {
	ra, raErr := h.Float("CRVAL1")
	dec, decErr := h.Float("CRVAL2")
	if raErr == nil && decErr == nil {
		return ra, dec, nil
	}

	raStr, err := h.String("OBJCTRA")
	if err != nil {
		return 0, 0, err
	}
	decStr, err := h.String("OBJCTDEC")
	if err != nil {
		return 0, 0, err
	}
	raHours, err := geometry.ParseSexagesimal(raStr)
	if err != nil {
		return 0, 0, fmt.Errorf("OBJCTRA: %w", err)
	}
	if dec, err = geometry.ParseSexagesimal(decStr); err != nil {
		return 0, 0, fmt.Errorf("OBJCTDEC: %w", err)
	}
	return geometry.HoursToDegrees(raHours), dec, nil
}

// pixelScale returns degrees per pixel along each image axis.
func pixelScale(h *Header) (float64, float64, error) {
	cdelt1, err1 := h.Float("CDELT1")
	cdelt2, err2 := h.Float("CDELT2")
	if err1 == nil && err2 == nil {
		return cdelt1, cdelt2, nil
	}
	cd11, err11 := h.Float("CD1_1")
	cd21, err21 := h.Float("CD2_1")
	cd12, err12 := h.Float("CD1_2")
	cd22, err22 := h.Float("CD2_2")
	if err11 == nil && err21 == nil && err12 == nil && err22 == nil {
		return math.Hypot(cd11, cd21), math.Hypot(cd12, cd22), nil
	}
	return 0, 0, fmt.Errorf("pixel scale: %w", errors.Join(
		fmt.Errorf("CDELT1/CDELT2: %w", ErrMissingCard),
		fmt.Errorf("CD matrix: %w", ErrMissingCard),
	))
}

func positionAngle(h *Header) float64 {
	if rot, err := h.Float("CROTA2"); err == nil {
		return geometry.NormalizeDegrees(rot)
	}
	cd12, err12 := h.Float("CD1_2")
	cd22, err22 := h.Float("CD2_2")
	if err12 == nil && err22 == nil {
		return geometry.NormalizeDegrees(math.Atan2(-cd12, cd22) * 180 / math.Pi)
	}
	return 0
}

func firstFloat(h *Header, keys ...string) (float64, error) {
	var errs []error
	for _, k := range keys {
		v, err := h.Float(k)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
	}
	return 0, errors.Join(errs...)
}
