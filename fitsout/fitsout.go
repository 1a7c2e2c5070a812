// Package fitsout writes the acquisition loop's captured frames to disk as
// FITS images, grounded on andor/sdk3/fits.go's writeFits/
// collectHeaderMetadata3 (BZERO/BSCALE uint16<->int16 packing, fitsio.Card
// construction) and the full tag list in original_source/mop_fts.c's
// fts_write.
package fitsout

import (
	"fmt"
	"io"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/LivTel/moptop/engineerr"
	"github.com/LivTel/moptop/runconfig"
)

// RunContext is the per-run information shared by every frame written
// during that run, set once by the run controller (spec §4.9/§4.10) rather
// than recomputed per frame.
type RunContext struct {
	RunNumber int
	ExpTotal  int
	Config    *runconfig.RunConfig
	Spec      *runconfig.CameraSpec
	Measured  *runconfig.MeasuredParams

	// ResolvedExposure is the exposure time the run controller resolved
	// before acquiring (runconfig.ResolveExposure's result): for an
	// auto-exposure run this is the computed |rot_step/rot_vel| -
	// 2*readout_time, not the unset Config.Exposure. EXPREQST (spec §8 S5)
	// carries this value; EXPTIME carries Measured.Exposure.
	ResolvedExposure float64
}

// Write packs pixels into a 2-D 16-bit FITS image and streams it to w, with
// the full MOPTOP header tag set from spec §6.
func Write(w io.Writer, run *RunContext, frame *runconfig.FrameRecord, pixels []uint16, width, height int) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return engineerr.NewFatal(engineerr.FacFITS, err)
	}
	defer fits.Close()

	im := fitsio.NewImage(16, []int{width, height})
	defer im.Close()

	cards, err := headerCards(run, frame)
	if err != nil {
		return engineerr.NewFatal(engineerr.FacFITS, err)
	}
	if err := im.Header().Append(cards...); err != nil {
		return engineerr.NewFatal(engineerr.FacFITS, err)
	}

	packed := make([]int16, len(pixels))
	for i, v := range pixels {
		packed[i] = int16(int32(v) - 32768)
	}
	if err := im.Write(packed); err != nil {
		return engineerr.NewFatal(engineerr.FacFITS, err)
	}
	return fits.Write(im)
}

const (
	wavelengthShort = 4200
	wavelengthLong  = 6800
)

func isoTime(t time.Time) string {
	return t.UTC().Format("15:04:05.000000")
}

func isoDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func isoDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}

func mjd(t time.Time) float64 {
	unix := float64(t.UTC().UnixNano()) / 1e9
	return unix/86400.0 + 40587.0
}

func headerCards(run *RunContext, frame *runconfig.FrameRecord) ([]fitsio.Card, error) {
	cfg := run.Config
	spec := run.Spec
	obstype, err := cfg.FrameType.ObsType()
	if err != nil {
		return nil, err
	}
	gain, noise, err := spec.GainNoise(cfg.Readout, cfg.Amp)
	if err != nil {
		return nil, err
	}

	return []fitsio.Card{
		{Name: "SIMPLE", Value: true},
		{Name: "BITPIX", Value: 16},
		{Name: "NAXIS", Value: 2},
		{Name: "NAXIS1", Value: run.Measured.SensorWidth / cfg.Binning},
		{Name: "NAXIS2", Value: run.Measured.SensorHeight / cfg.Binning},
		{Name: "EXTEND", Value: true},
		{Name: "OBSTYPE", Value: obstype},
		{Name: "ORIGIN", Value: "Liverpool JMU"},
		{Name: "INSTRUME", Value: "MOPTOP"},
		{Name: "FILTER1", Value: spec.Filter},
		{Name: "FILTERID", Value: spec.FilterID},
		{Name: "WAVSHORT", Value: wavelengthShort},
		{Name: "WAVLONG", Value: wavelengthLong},
		{Name: "RUNNUM", Value: run.RunNumber},
		{Name: "EXPNUM", Value: frame.Sequence + (frame.Rotation-1)*int(cfg.ImagesPerRev)},
		{Name: "EXPTOTAL", Value: run.ExpTotal},
		{Name: "ALTITUDE", Value: cfg.Altitude},
		{Name: "AZIMUTH", Value: cfg.Azimuth},
		{Name: "ROTANGLE", Value: frame.RotAng},
		{Name: "FOCUSPOS", Value: cfg.Focus},
		{Name: "RA", Value: cfg.RA},
		{Name: "DEC", Value: cfg.Dec},
		{Name: "OBJECT", Value: cfg.Object},
		{Name: "RADECSYS", Value: "FK5"},
		{Name: "EQUINOX", Value: 2000},
		{Name: "MJD", Value: mjd(frame.ObsStart)},
		{Name: "DATE", Value: isoDate(frame.ObsStart)},
		{Name: "DATE-OBS", Value: isoDateTime(frame.ObsStart)},
		{Name: "UTSTART", Value: isoTime(frame.ObsStart)},
		{Name: "ENDDATE", Value: isoDate(frame.ObsEnd)},
		{Name: "END-OBS", Value: isoDateTime(frame.ObsEnd)},
		{Name: "UTEND", Value: isoTime(frame.ObsEnd)},
		{Name: "DURATION", Value: frame.Duration()},
		{Name: "MOPRREQ", Value: frame.RotReq},
		{Name: "MOPRBEG", Value: frame.RotBeg},
		{Name: "MOPREND", Value: frame.RotEnd},
		{Name: "MOPRARC", Value: frame.RotArc},
		{Name: "MOPRNUM", Value: frame.Rotation},
		{Name: "MOPRPOS", Value: frame.Sequence},
		{Name: "TRIGGER", Value: triggerDescription(cfg)},
		{Name: "EXPREQST", Value: run.ResolvedExposure},
		{Name: "EXPTIME", Value: run.Measured.Exposure},
		{Name: "GAIN", Value: gain, Comment: fmt.Sprintf("read noise %.2f e-", noise)},
		{Name: "CCDXBIN", Value: cfg.Binning},
		{Name: "CCDYBIN", Value: cfg.Binning},
		{Name: "CCDATEMP", Value: cfg.TargetTemp + 273.15, Comment: "Kelvin"},
		{Name: "CCDTYPE", Value: "sCMOS"},
		{Name: "CCDMODEL", Value: spec.Model},
		{Name: "CCDSERNO", Value: spec.SerialNumber},
		{Name: "CCDRATE", Value: int(cfg.Readout)},
		{Name: "CCDORDER", Value: string(cfg.ReadOrder)},
		{Name: "CCDENCOD", Value: string(cfg.Encoding)},
		{Name: "CCDAMP", Value: string(cfg.Amp)},
		{Name: "CCDDEPTH", Value: spec.WellDepth},
		{Name: "CCDDARK", Value: spec.DarkCurrent},
		{Name: "CCDXPIXE", Value: 11.0, Comment: "microns"},
		{Name: "CCDYPIXE", Value: 11.0, Comment: "microns"},
		{Name: "CLKFREQ", Value: run.Measured.ClockFrequencyHz},
		{Name: "CLKSTAMP", Value: frame.ClockTick},
		{Name: "BZERO", Value: 32768},
		{Name: "BSCALE", Value: 1.0},
	}, nil
}

func triggerDescription(cfg *runconfig.RunConfig) string {
	if cfg.IsStatic() {
		return "software"
	}
	return "hardware"
}
