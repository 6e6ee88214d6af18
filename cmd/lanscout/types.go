package main

import (
	"context"
	"sync"

	"github.com/kgrahem/lanscout/config"
	"github.com/kgrahem/lanscout/engine"
	"github.com/kgrahem/lanscout/internal"
	"github.com/kgrahem/lanscout/session"
)

type Application struct {
	config    *config.Config
	logger    *internal.Logger
	engine    *engine.Engine
	browsers  []*browser
	adverts   []*advert
	context   context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
}

type browser struct {
	manager *session.Manager
	handle  *session.BrowseHandle
}

type advert struct {
	manager *session.Manager
	handle  *session.AdvertiseHandle
}
