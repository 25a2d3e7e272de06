package fastview

import (
	"context"
	"errors"

	channerics "github.com/niceyeti/channerics/channels"
)

// ViewBuilder constructs one or more views that share a view-model. The data model arrives
// on a channel, is converted once, and the result is broadcast to every view.
type ViewBuilder[DataModel any, ViewModel any] struct {
	source      <-chan DataModel
	viewModelFn func(DataModel) ViewModel
	builderFns  []ViewBuilderFunc[ViewModel]
	done        <-chan struct{} // Okay if nil
}

// NewViewBuilder returns a builder for a given data-model and view-model.
func NewViewBuilder[DataModel any, ViewModel any]() *ViewBuilder[DataModel, ViewModel] {
	return &ViewBuilder[DataModel, ViewModel]{}
}

// WithModel sets the input channel and the function converting its items to the view-model.
func (vb *ViewBuilder[DataModel, ViewModel]) WithModel(
	input <-chan DataModel,
	convert func(DataModel) ViewModel,
) *ViewBuilder[DataModel, ViewModel] {
	vb.source = input
	vb.viewModelFn = convert
	return vb
}

// ViewBuilderFunc builds a view from an input view-model channel and a 'done' channel for cleanup.
type ViewBuilderFunc[ViewModel any] func(<-chan struct{}, <-chan ViewModel) ViewComponent

// WithView adds a view to the list of views to build.
// They are returned in the same order as built when Build() is called.
func (vb *ViewBuilder[DataModel, ViewModel]) WithView(
	builderFn ViewBuilderFunc[ViewModel],
) *ViewBuilder[DataModel, ViewModel] {
	vb.builderFns = append(vb.builderFns, builderFn)
	return vb
}

// WithContext ensures that all downstream channels are closed when context is cancelled.
func (vb *ViewBuilder[DataModel, ViewModel]) WithContext(
	ctx context.Context,
) *ViewBuilder[DataModel, ViewModel] {
	vb.done = ctx.Done()
	return vb
}

// ErrNoViews is returned when Build() is called before the caller has added any views.
var ErrNoViews error = errors.New("no views to build: WithView must be called")

// ErrNoModel is returned when Build() is called before  WithModel() has been called.
var ErrNoModel error = errors.New("no model specified: WithModel must be called")

// Build executes the stored builders, connecting the channels together and returning
// all the views.
func (vb *ViewBuilder[DataModel, ViewModel]) Build() (views []ViewComponent, err error) {
	if len(vb.builderFns) == 0 {
		return nil, ErrNoViews
	}
	if vb.viewModelFn == nil || vb.source == nil {
		return nil, ErrNoModel
	}

	vmChan := channerics.Convert(vb.done, vb.source, vb.viewModelFn)
	vmChans := channerics.Broadcast(vb.done, vmChan, len(vb.builderFns))
	for i, build := range vb.builderFns {
		views = append(views, build(vb.done, vmChans[i]))
	}
	return
}
