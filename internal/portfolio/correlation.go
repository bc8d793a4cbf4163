package portfolio

import "math"

// quadraticForm computes wᵀ M w for an exposure-weight vector w against a
// correlation (or covariance) matrix M. Used to score candidate-inclusive
// portfolio correlation risk against the policy's correlation thresholds.
// Complexity: O(n²).
func quadraticForm(w []float64, M [][]float64) float64 {
	n := len(w)
	Mw := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			Mw[i] += M[i][j] * w[j]
		}
	}
	var result float64
	for i := 0; i < n; i++ {
		result += w[i] * Mw[i]
	}
	return result
}

// validCorrelationMatrix reports whether M is positive definite, via
// Cholesky decomposition, so a singular positive semi-definite matrix
// also fails. A correlation matrix that fails this check is
// malformed (e.g. built from a stale or inconsistent pairwise-correlation
// feed) and must not be used for a hard-cap decision.
func validCorrelationMatrix(M [][]float64) bool {
	return choleskyDecompose(M) != nil
}

// choleskyDecompose computes the lower-triangular Cholesky factor L of A,
// returning nil if A is not positive-definite.
func choleskyDecompose(A [][]float64) [][]float64 {
	n := len(A)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := A[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil
				}
				L[i][j] = math.Sqrt(sum)
			} else {
				if L[j][j] == 0 {
					return nil
				}
				L[i][j] = sum / L[j][j]
			}
		}
	}
	return L
}
