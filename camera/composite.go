package camera

import (
	"github.com/gogpu/gg"
)

// Drop shadow under the video card.
const (
	shadowAlpha   = 0.4
	shadowBlur    = 40.0
	shadowOffsetY = 20.0
	shadowSteps   = 8
)

// composite renders background, transformed video card and cursor.
func (s *Synthesizer) composite(t float64, fr Frame) error {
	dc := s.dc
	dc.Identity()

	grad := gg.NewLinearGradientBrush(0, 0, s.w, s.h)
	for _, st := range s.opts.Gradient {
		grad.AddColorStop(st.Offset, gg.Hex(st.Color))
	}
	dc.SetFillBrush(grad)
	dc.DrawRectangle(0, 0, s.w, s.h)
	if err := dc.Fill(); err != nil {
		return err
	}

	dc.Push()
	defer dc.Pop()
	dc.Translate(s.w/2, s.h/2)
	dc.Scale(fr.Camera.Zoom, fr.Camera.Zoom)
	dc.Translate(-fr.Camera.CenterX, -fr.Camera.CenterY)

	if s.src != nil {
		if img := s.src.FrameAt(t); img != nil {
			if err := s.cardShadow(); err != nil {
				return err
			}
			dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
				X:         0,
				Y:         0,
				DstWidth:  s.w,
				DstHeight: s.h,
			})
		}
	}

	if fr.Cursor != nil {
		return s.cursor(fr.Cursor.X, fr.Cursor.Y, fr.CursorRadius)
	}
	return nil
}

// cardShadow approximates a blurred shadow with stacked translucent
// rectangles growing toward the blur radius.
func (s *Synthesizer) cardShadow() error {
	dc := s.dc
	for i := shadowSteps; i >= 1; i-- {
		spread := shadowBlur / 2 * float64(i) / shadowSteps
		dc.SetRGBA(0, 0, 0, shadowAlpha/shadowSteps)
		dc.DrawRoundedRectangle(-spread, shadowOffsetY-spread, s.w+2*spread, s.h+2*spread, spread)
		if err := dc.Fill(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synthesizer) cursor(x, y, r float64) error {
	dc := s.dc

	dc.SetRGBA(0, 0, 0, 0.15)
	dc.DrawCircle(x, y+4, r+4)
	if err := dc.Fill(); err != nil {
		return err
	}
	dc.SetRGBA(0, 0, 0, 0.15)
	dc.DrawCircle(x, y+4, r+2)
	if err := dc.Fill(); err != nil {
		return err
	}

	dc.SetHexColor(s.opts.CursorColor)
	dc.DrawCircle(x, y, r)
	if err := dc.FillPreserve(); err != nil {
		return err
	}
	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(3)
	return dc.Stroke()
}
