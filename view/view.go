// Package view implements remote-control commands operating on the feature context.
package view

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/zacp/dispatch"
	"github.com/outofforest/zacp/features"
	"github.com/outofforest/zacp/wire"
)

// Dump formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Load modes.
const (
	LoadFull = "full"
	LoadMark = "mark"
)

// Hooks connect commands to the rest of the application. Nil hooks are skipped.
type Hooks struct {
	// ZoomTo moves the display to the feature.
	ZoomTo func(ctx context.Context, feature *features.Feature) error

	// Select highlights the features.
	Select func(ctx context.Context, selected []*features.Feature) error

	// Load fetches featuresets for the range from data sources.
	Load func(ctx context.Context, featureSets []string, start, end int) error

	// Shutdown is called after shutdown has been requested by the peer.
	Shutdown func(abort bool)
}

// View serves commands.
type View struct {
	hooks Hooks
}

// New creates view.
func New(hooks Hooks) *View {
	return &View{hooks: hooks}
}

// Register registers handlers of all the commands served by the view.
func (v *View) Register(d *dispatch.Dispatcher) error {
	handlers := map[string]dispatch.HandlerFunc{
		"ping":              v.ping,
		"shutdown":          v.shutdown,
		"find_feature":      v.findFeature,
		"create_feature":    v.createFeature,
		"replace_feature":   v.replaceFeature,
		"delete_feature":    v.deleteFeature,
		"get_feature_names": v.getFeatureNames,
		"load_features":     v.loadFeatures,
		"dump_features":     v.dumpFeatures,
		"zoom_to":           v.zoomTo,
		"get_mark":          v.getMark,
		"revcomp":           v.revComp,
		"column_show":       v.columnShow,
		"column_hide":       v.columnHide,
		"select_feature":    v.selectFeature,
	}
	for name, h := range handlers {
		if err := d.RegisterFunc(name, h); err != nil {
			return err
		}
	}
	return nil
}

func (v *View) ping(_ context.Context, _ *dispatch.RequestContext) *wire.Reply {
	return wire.NewReply(wire.ResultOK, "ping ok !")
}

func (v *View) shutdown(ctx context.Context, rc *dispatch.RequestContext) *wire.Reply {
	typ, _ := rc.Request.Attr("type")
	abort := typ == "abort"

	logger.Get(ctx).Info("Shutdown requested by peer", zap.Bool("abort", abort))
	if v.hooks.Shutdown != nil {
		v.hooks.Shutdown(abort)
	}
	return wire.NewReply(wire.ResultOK, "shutdown ok !")
}

func (v *View) findFeature(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	if rc.Features.FeatureCount() == 0 {
		return wire.NewReply(wire.ResultBadRequest, "No feature specified for %s.", rc.Request.Action)
	}

	reply := wire.NewReply(wire.ResultOK, "Feature found ok !")
	for _, fsSpec := range rc.Features.FeatureSets {
		for _, spec := range fsSpec.Features {
			f := rc.Snapshot.Find(fsSpec, spec)
			if f == nil {
				return wire.NewReply(wire.ResultFailed, "Cannot find feature '%s' in featureset \"%s\".",
					spec.Name, fsSpec.Name)
			}
			reply.Add(featureElement(f))
		}
	}
	return reply
}

func (v *View) createFeature(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	for _, fsSpec := range rc.Features.FeatureSets {
		for _, spec := range fsSpec.Features {
			if _, err := rc.Edit.Context.AddFeature(fsSpec, spec); err != nil {
				return editFailure(err, "Failed to draw feature '%s'", spec.Name)
			}
		}
	}
	return wire.NewReply(wire.ResultOK, "Created feature ok !")
}

func (v *View) replaceFeature(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	for _, fsSpec := range rc.Features.FeatureSets {
		for _, spec := range fsSpec.Features {
			if _, err := rc.Edit.Context.ReplaceFeature(fsSpec, spec); err != nil {
				return editFailure(err, "Failed to replace feature '%s'", spec.Name)
			}
		}
	}
	return wire.NewReply(wire.ResultOK, "Feature replaced ok !")
}

func (v *View) deleteFeature(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	for _, fsSpec := range rc.Features.FeatureSets {
		for _, spec := range fsSpec.Features {
			if _, err := rc.Edit.Context.RemoveFeature(fsSpec, spec); err != nil {
				return editFailure(err, "Failed to delete feature '%s'", spec.Name)
			}
		}
	}
	return wire.NewReply(wire.ResultOK, "Feature deleted ok !")
}

func (v *View) getFeatureNames(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	start, end, reply := rangeAttrs(rc.Request)
	if reply != nil {
		return reply
	}
	if len(rc.Features.FeatureSets) != 1 {
		return wire.NewReply(wire.ResultBadRequest, "Exactly one featureset must be specified.")
	}

	fsSpec := rc.Features.FeatureSets[0]
	names, err := rc.Snapshot.FeatureNames(fsSpec, start, end)
	switch {
	case errors.Is(err, features.ErrOutsideBlock):
		return wire.NewReply(wire.ResultBadRequest, "Requested coords (%d, %d) are outside the block.", start, end)
	case err != nil && !errors.Is(err, features.ErrFeatureSetNotFound):
		return wire.NewReply(wire.ResultFailed, "%s", err.Error())
	case len(names) == 0:
		return wire.NewReply(wire.ResultFailed, "No features found for feature set \"%s\" in range (%d, %d).",
			fsSpec.Name, start, end)
	}

	reply = wire.NewReply(wire.ResultOK, "%s", strings.Join(names, ";"))
	fsEl := wire.NewElement(wire.ElementFeatureSet, "name", fsSpec.Name)
	for _, name := range names {
		fsEl.Add(wire.NewElement(wire.ElementFeature, "name", name))
	}
	return reply.Add(fsEl)
}

func (v *View) loadFeatures(ctx context.Context, rc *dispatch.RequestContext) *wire.Reply {
	mode, _ := rc.Request.Attr("load")
	if mode == "" {
		mode = LoadFull
	}

	c := rc.Edit.Context
	start, end := c.Start, c.End
	switch mode {
	case LoadFull:
	case LoadMark:
		if c.Mark == nil {
			return wire.NewReply(wire.ResultFailed, "Load features to marked region requested but no mark set.")
		}
		start, end = c.Mark.Start, c.Mark.End
	default:
		return wire.NewReply(wire.ResultBadRequest, "Invalid value %q of attribute \"load\".", mode)
	}

	if len(rc.Features.FeatureSets) == 0 {
		return wire.NewReply(wire.ResultBadRequest, "No featureset specified for %s.", rc.Request.Action)
	}

	names := make([]string, 0, len(rc.Features.FeatureSets))
	var loaded int
	for _, fsSpec := range rc.Features.FeatureSets {
		names = append(names, fsSpec.Name)

		b, err := c.Locate(fsSpec.Align, fsSpec.Block)
		if err != nil {
			return wire.NewReply(wire.ResultFailed, "%s", err.Error())
		}
		b.FeatureSet(fsSpec.Name, true)

		for _, spec := range fsSpec.Features {
			if spec.End < start || spec.Start > end {
				continue
			}
			_, err := c.AddFeature(fsSpec, spec)
			if errors.Is(err, features.ErrFeatureExists) {
				_, err = c.ReplaceFeature(fsSpec, spec)
			}
			if err != nil {
				return editFailure(err, "Failed to load feature '%s'", spec.Name)
			}
			loaded++
		}
	}

	if v.hooks.Load != nil {
		if err := v.hooks.Load(ctx, names, start, end); err != nil {
			return wire.NewReply(wire.ResultFailed, "Loading featuresets failed: %s", err)
		}
	}

	return wire.NewReply(wire.ResultOK, "Loaded %d features in %d featuresets.", loaded, len(names))
}

func (v *View) dumpFeatures(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	format, _ := rc.Request.Attr("format")
	if format == "" {
		format = FormatText
	}

	buf := &bytes.Buffer{}
	var err error
	switch format {
	case FormatText:
		err = rc.Snapshot.DumpText(buf)
	case FormatJSON:
		err = rc.Snapshot.DumpJSON(buf)
	default:
		return wire.NewReply(wire.ResultBadRequest, "Invalid value %q of attribute \"format\".", format)
	}
	if err != nil {
		return wire.NewReply(wire.ResultFailed, "Dumping features failed: %s", err)
	}

	file, _ := rc.Request.Attr("file")
	if file == "" {
		return wire.NewReply(wire.ResultOK, "%s", buf.String())
	}
	if err := os.WriteFile(file, buf.Bytes(), 0o600); err != nil {
		return wire.NewReply(wire.ResultFailed, "Dumping features to %q failed: %s", file, err)
	}
	return wire.NewReply(wire.ResultOK, "Features dumped to %q.", file)
}

func (v *View) zoomTo(ctx context.Context, rc *dispatch.RequestContext) *wire.Reply {
	f := targets(rc)[0]
	if v.hooks.ZoomTo != nil {
		if err := v.hooks.ZoomTo(ctx, f); err != nil {
			return wire.NewReply(wire.ResultFailed, "Zoom to feature '%s' failed: %s", f.Name, err)
		}
	}
	return wire.NewReply(wire.ResultOK, "Zoomed to feature '%s' [%s].", f.Name, f.ID)
}

func (v *View) getMark(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	mark := rc.Snapshot.Mark
	if mark == nil {
		return wire.NewReply(wire.ResultFailed, "No mark set.")
	}
	return wire.NewReply(wire.ResultOK, "Mark (%d, %d).", mark.Start, mark.End).
		Add(wire.NewElement("mark", "start", strconv.Itoa(mark.Start), "end", strconv.Itoa(mark.End)))
}

func (v *View) revComp(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	rc.Edit.Context.RevComp()
	return wire.NewReply(wire.ResultOK, "Revcomp ok !")
}

func (v *View) columnShow(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	return v.setHidden(rc, false)
}

func (v *View) columnHide(_ context.Context, rc *dispatch.RequestContext) *wire.Reply {
	return v.setHidden(rc, true)
}

func (v *View) setHidden(rc *dispatch.RequestContext, hidden bool) *wire.Reply {
	columns := append(append([]wire.FeatureSetSpec{}, rc.Features.FeatureSets...), rc.Features.Columns...)
	if len(columns) == 0 {
		return wire.NewReply(wire.ResultBadRequest, "No column specified for %s.", rc.Request.Action)
	}
	for _, fsSpec := range columns {
		if err := rc.Edit.Context.SetHidden(fsSpec, hidden); err != nil {
			return wire.NewReply(wire.ResultFailed, "Column \"%s\" not found.", fsSpec.Name)
		}
	}
	if hidden {
		return wire.NewReply(wire.ResultOK, "Column hidden ok !")
	}
	return wire.NewReply(wire.ResultOK, "Column shown ok !")
}

func (v *View) selectFeature(ctx context.Context, rc *dispatch.RequestContext) *wire.Reply {
	selected := targets(rc)
	if v.hooks.Select != nil {
		if err := v.hooks.Select(ctx, selected); err != nil {
			return wire.NewReply(wire.ResultFailed, "Selecting features failed: %s", err)
		}
	}
	return wire.NewReply(wire.ResultOK, "Selected %d features ok !", len(selected))
}

// targets returns features named by the request. For actions requiring targets dispatcher ensures they exist.
func targets(rc *dispatch.RequestContext) []*features.Feature {
	var result []*features.Feature
	for _, fsSpec := range rc.Features.FeatureSets {
		for _, spec := range fsSpec.Features {
			if f := rc.Snapshot.Find(fsSpec, spec); f != nil {
				result = append(result, f)
			}
		}
	}
	return result
}

func featureElement(f *features.Feature) *wire.Element {
	return wire.NewElement(wire.ElementFeature,
		"name", f.Name,
		"start", strconv.Itoa(f.Start),
		"end", strconv.Itoa(f.End),
		"strand", f.Strand.String(),
	)
}

func rangeAttrs(req *wire.Request) (int, int, *wire.Reply) {
	start, _, err := req.IntAttr("start")
	if err != nil {
		return 0, 0, wire.NewReply(wire.ResultBadRequest, "%s", err.Error())
	}
	end, _, err := req.IntAttr("end")
	if err != nil {
		return 0, 0, wire.NewReply(wire.ResultBadRequest, "%s", err.Error())
	}
	return start, end, nil
}

func editFailure(err error, format string, name string) *wire.Reply {
	code := wire.ResultFailed
	if errors.Is(err, features.ErrOutsideBlock) {
		code = wire.ResultBadRequest
	}
	return wire.NewReply(code, format+": %s.", name, err)
}
