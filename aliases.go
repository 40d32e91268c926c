package flipswitch

import (
	"github.com/flipswitch/go-server-sdk/api"
	"github.com/flipswitch/go-server-sdk/util"
)

type Event = api.Event
type EventKind = api.EventKind
type Flag = api.Flag
type EvaluationContext = api.EvaluationContext
type BulkEvaluationResponse = api.BulkEvaluationResponse
type ClientEvent = api.ClientEvent
type ClientEventType = api.ClientEventType
type ErrorResponse = api.ErrorResponse
type Logger = util.Logger
type DiscardLogger = util.DiscardLogger

func SetLogger(log Logger) { util.SetLogger(log) }
