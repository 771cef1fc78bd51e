package dispatch

import (
	"context"
	"strings"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/adapters/image"
	"sakaibot/internal/adapters/tts"
	"sakaibot/internal/domain/jobs"
	"sakaibot/internal/infra/logger"
)

// ImageWorker собирает воркера полосы генерации изображений: доводка промпта
// текстовой моделью, затем вызов бэкенда. Доводка — best effort: при её сбое
// генерация идёт по исходному промпту.
func ImageWorker(tgen *TextGenerator, gen image.Generator) jobs.Worker {
	return func(ctx context.Context, req jobs.Request) (jobs.Result, error) {
		prompt := req.Prompt
		enhanced, err := tgen.Generate(ctx, ai.PromptEnhanceImage(), prompt)
		if err != nil {
			logger.Warnf("image worker %s: prompt enhancement failed, using original: %v", gen.Name(), err)
		} else if cleaned := strings.TrimSpace(enhanced); cleaned != "" {
			prompt = cleaned
		}

		data, err := gen.Generate(ctx, prompt)
		if err != nil {
			return jobs.Result{}, err
		}
		return jobs.Result{Data: data}, nil
	}
}

// TTSWorker собирает воркера полосы синтеза речи. Путь к файлу в результате;
// файл удаляет диспетчер после отправки.
func TTSWorker(synth *tts.Synthesizer) jobs.Worker {
	return func(ctx context.Context, req jobs.Request) (jobs.Result, error) {
		path, err := synth.Synthesize(ctx, req.Prompt, tts.Params{
			Voice:  req.Params["voice"],
			Rate:   req.Params["rate"],
			Volume: req.Params["volume"],
		})
		if err != nil {
			return jobs.Result{}, err
		}
		return jobs.Result{FilePath: path}, nil
	}
}
