package transformer

import (
	"gonum.org/v1/gonum/mat"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/optimizations"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/utils"
)

// MLP is the position-wise feed-forward block: W2 * drop(ReLU(W1 x + b1)) + b2.
type MLP struct {
	Inputs, Hiddens, Outputs  int
	Dropout                   float64
	HiddenWeights, HiddenBias *mat.Dense
	OutputWeights, OutputBias *mat.Dense

	GradHiddenW, GradHiddenB *mat.Dense
	GradOutputW, GradOutputB *mat.Dense

	// cache for backprop
	lastInput, hiddenPreAct, hiddenOutputs, dropMask *mat.Dense
}

func NewMLP(dModel, hidden int, dropout float64) *MLP {
	return &MLP{
		Inputs:        dModel,
		Hiddens:       hidden,
		Outputs:       dModel,
		Dropout:       dropout,
		HiddenWeights: mat.NewDense(hidden, dModel, utils.RandomArray(dModel*hidden, float64(dModel))),
		HiddenBias:    mat.NewDense(hidden, 1, nil),
		OutputWeights: mat.NewDense(dModel, hidden, utils.RandomArray(hidden*dModel, float64(hidden))),
		OutputBias:    mat.NewDense(dModel, 1, nil),

		GradHiddenW: mat.NewDense(hidden, dModel, nil),
		GradHiddenB: mat.NewDense(hidden, 1, nil),
		GradOutputW: mat.NewDense(dModel, hidden, nil),
		GradOutputB: mat.NewDense(dModel, 1, nil),
	}
}

func (mlp *MLP) Forward(X *mat.Dense, train bool) *mat.Dense {
	mlp.lastInput = X
	hiddenLin := utils.Dot(mlp.HiddenWeights, X)                // (h x T)
	mlp.hiddenPreAct = utils.AddBias(hiddenLin, mlp.HiddenBias) // (h x T)
	mlp.hiddenOutputs = utils.Apply(utils.ReLUApply, mlp.hiddenPreAct)
	mlp.dropMask = nil
	if train && mlp.Dropout > 0 {
		r, c := mlp.hiddenOutputs.Dims()
		mlp.dropMask = utils.DropoutMask(r, c, mlp.Dropout)
		mlp.hiddenOutputs = utils.Multiply(mlp.hiddenOutputs, mlp.dropMask)
	}
	finalLin := utils.Dot(mlp.OutputWeights, mlp.hiddenOutputs) // (d x T)
	return utils.AddBias(finalLin, mlp.OutputBias)
}

// Backward accumulates parameter gradients and returns dL/dX.
func (mlp *MLP) Backward(grad *mat.Dense) *mat.Dense {
	mlp.GradOutputW.Add(mlp.GradOutputW, utils.Dot(grad, mlp.hiddenOutputs.T()))
	// sum gradients over time for biases
	mlp.GradOutputB.Add(mlp.GradOutputB, utils.SumCols(grad))

	hiddenGradOut := utils.Dot(mlp.OutputWeights.T(), grad) // dL/d(hidden_out)
	if mlp.dropMask != nil {
		hiddenGradOut = utils.Multiply(hiddenGradOut, mlp.dropMask)
	}
	hiddenErrors := utils.Multiply(hiddenGradOut, utils.ReLUPrime(mlp.hiddenPreAct))

	mlp.GradHiddenW.Add(mlp.GradHiddenW, utils.Dot(hiddenErrors, mlp.lastInput.T()))
	mlp.GradHiddenB.Add(mlp.GradHiddenB, utils.SumCols(hiddenErrors))

	return utils.Dot(mlp.HiddenWeights.T(), hiddenErrors)
}

// AdamW: weight decay only on weights, not biases
func (mlp *MLP) Params(prefix string) []optimizations.Param {
	return []optimizations.Param{
		{Name: prefix + ".w1", W: mlp.HiddenWeights, Grad: mlp.GradHiddenW, Decay: true},
		{Name: prefix + ".b1", W: mlp.HiddenBias, Grad: mlp.GradHiddenB},
		{Name: prefix + ".w2", W: mlp.OutputWeights, Grad: mlp.GradOutputW, Decay: true},
		{Name: prefix + ".b2", W: mlp.OutputBias, Grad: mlp.GradOutputB},
	}
}
