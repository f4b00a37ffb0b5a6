package app

import (
	"stockwatch/internal/config"
	"stockwatch/internal/extract"
	"stockwatch/internal/notifier"
	"stockwatch/internal/pipeline"
	logx "stockwatch/pkg/logx"
)

func buildExtractor(cfg *config.Config, opts Options, log logx.Logger) (extract.Extractor, error) {
	if opts.Extractor != nil {
		return opts.Extractor, nil
	}
	bc, err := cfg.BrowserOptions()
	if err != nil {
		return nil, err
	}
	return extract.NewBrowser(bc, log), nil
}

func buildNotifier(cfg *config.Config, log logx.Logger) (pipeline.Deliverer, error) {
	nc, err := cfg.NotifierOptions()
	if err != nil {
		return nil, err
	}
	return notifier.New(nc, log), nil
}

// pipelineOptions applies the command-line override on top of the file.
func pipelineOptions(cfg *config.Config, forceNotify bool) pipeline.Config {
	pc := cfg.PipelineOptions()
	pc.ForceNotify = pc.ForceNotify || forceNotify
	return pc
}
