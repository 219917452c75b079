// Package main batch-segments a directory of images against a running
// segmentd server. Prompts come from a JSON5 file mapping image names to
// point lists; ranked masks (and optional overlays) are written next to
// each other in the output directory.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/color"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/promptseg/segmentd/raster"
	"github.com/promptseg/segmentd/web"
)

var logger = golog.NewDevelopmentLogger("batchseg")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Server   string `flag:"server,default=http://localhost:8001,usage=segmentd server URL"`
	Input    string `flag:"input,required,usage=directory of input images"`
	Prompts  string `flag:"prompts,required,usage=JSON5 file mapping image names to prompts"`
	Output   string `flag:"output,default=./masks,usage=output directory"`
	Workers  int    `flag:"workers,default=4,usage=concurrent requests"`
	Overlays bool   `flag:"overlay,usage=also write tinted overlay images"`
}

// promptSpec is one image's entry in the prompts file.
type promptSpec struct {
	Positive  [][2]float64 `json:"positive"`
	Negative  [][2]float64 `json:"negative,omitempty"`
	Multimask bool         `json:"multimask,omitempty"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	promptData, err := os.ReadFile(argsParsed.Prompts)
	if err != nil {
		return errors.Wrap(err, "cannot read prompts file")
	}
	prompts := map[string]promptSpec{}
	if err := json5.Unmarshal(promptData, &prompts); err != nil {
		return errors.Wrap(err, "cannot parse prompts file")
	}
	if len(prompts) == 0 {
		return errors.New("prompts file names no images")
	}
	if err := os.MkdirAll(argsParsed.Output, 0o755); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxInt(1, argsParsed.Workers))
	for name, spec := range prompts {
		name, spec := name, spec
		group.Go(func() error {
			if err := segmentOne(ctx, &argsParsed, name, spec, logger); err != nil {
				logger.Errorw("image failed", "image", name, "error", err)
				return err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Infow("batch complete", "images", len(prompts), "output", argsParsed.Output)
	return nil
}

func segmentOne(
	ctx context.Context,
	args *Arguments,
	name string,
	spec promptSpec,
	logger golog.Logger,
) error {
	imgPath := filepath.Join(args.Input, name)
	data, err := os.ReadFile(imgPath)
	if err != nil {
		return errors.Wrap(err, "cannot read image")
	}

	req := web.SegmentRequest{
		Image:           base64.StdEncoding.EncodeToString(data),
		PointsPositive:  spec.Positive,
		PointsNegative:  spec.Negative,
		MultimaskOutput: spec.Multimask,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, args.Server+"/segment", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "cannot reach server at %s", args.Server)
	}
	defer func() {
		utils.UncheckedError(httpResp.Body.Close())
	}()

	var resp web.SegmentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return errors.Wrap(err, "cannot decode server response")
	}
	if !resp.Success {
		return errors.Errorf("server: %s (%s)", resp.Message, httpResp.Status)
	}
	if resp.Degraded {
		logger.Warnw("server is in fallback mode, masks are geometry only", "image", name)
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for i, payload := range resp.Masks {
		mask, err := raster.DecodeBase64Mask(payload)
		if err != nil {
			return err
		}
		maskPNG, err := mask.EncodePNG()
		if err != nil {
			return err
		}
		outPath := filepath.Join(args.Output, fmt.Sprintf("%s_mask_%d.png", stem, i+1))
		if err := os.WriteFile(outPath, maskPNG, 0o644); err != nil {
			return err
		}
		logger.Infow("wrote mask", "image", name, "rank", i+1, "score", resp.Scores[i], "path", outPath)

		if args.Overlays {
			img, err := raster.DecodeImage(data)
			if err != nil {
				return err
			}
			overlay := raster.Overlay(img, mask, color.NRGBA{R: 64, G: 160, B: 255}, 0.45)
			overlayPNG, err := raster.EncodeImagePNG(overlay)
			if err != nil {
				return err
			}
			overlayPath := filepath.Join(args.Output, fmt.Sprintf("%s_overlay_%d.png", stem, i+1))
			if err := os.WriteFile(overlayPath, overlayPNG, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
