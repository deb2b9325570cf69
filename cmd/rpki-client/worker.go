package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/rpki-client/pkg/ipc"
	"github.com/cuemby/rpki-client/pkg/log"
	"github.com/cuemby/rpki-client/pkg/metrics"
	"github.com/cuemby/rpki-client/pkg/parser"
	"github.com/cuemby/rpki-client/pkg/types"
)

// runWorker is the re-exec'd child side of ipc.Spawn: it reads framed
// ParseRequests off fd 3 until EOF and writes one ParseResponse per
// request to fd 4. Only KindParser has a dispatch loop here — rsync and
// RRDP/HTTP dialing run synchronously inside the orchestrator's own
// pkg/fetch/transport dialers, never as a separate spawned process, so
// KindRsync/KindHTTP/KindRRDP have nothing to loop on.
func runWorker(kind ipc.Kind) error {
	if kind != ipc.KindParser {
		return fmt.Errorf("rpki-client: worker kind %q has no subprocess loop", kind)
	}

	requests, responses := ipc.ChildStreams()
	defer requests.Close()
	defer responses.Close()

	logger := log.WithComponent("worker-parser")

	for {
		req, err := ipc.ReadParseRequest(requests)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("rpki-client: worker: read request: %w", err)
		}

		timer := metrics.NewTimer()
		obj, parseErr := parseOne(req)
		timer.ObserveDurationVec(metrics.ParseDuration, req.Type.String())

		outcome := "ok"
		if parseErr != nil {
			outcome = "error"
			logger.Warn().Str("path", req.Path).Err(parseErr).Msg("parse failed")
		}
		metrics.ObjectsParsedTotal.WithLabelValues(req.Type.String(), outcome).Inc()
		if err := ipc.WriteParseResponse(responses, req.Type, parseErr, obj); err != nil {
			return fmt.Errorf("rpki-client: worker: write response: %w", err)
		}
	}
}

// parseOne dispatches one ParseRequest to the matching pkg/parser
// entrypoint. The returned value's concrete type matches what
// ipc.WriteParseResponse expects for req.Type.
func parseOne(req ipc.ParseRequest) (interface{}, error) {
	switch req.Type {
	case types.EntityCER:
		return parser.ParseCert(req.Path)
	case types.EntityMFT:
		return parser.ParseManifest(req.Path)
	case types.EntityROA:
		roa, err := parser.ParseROA(req.Path)
		if err != nil {
			return nil, err
		}
		roa.TAL = req.TAL
		return roa, nil
	case types.EntityCRL:
		return parser.ParseCRL(req.Path)
	case types.EntityGBR:
		return parser.ParseGBR(req.Path)
	default:
		return nil, fmt.Errorf("rpki-client: worker: unsupported entity type %s", req.Type)
	}
}
