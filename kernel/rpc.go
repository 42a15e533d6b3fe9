package kernel

import (
	"github.com/mollenos/mollenkit/ipc"
	"github.com/mollenos/mollenkit/kernelerr"
)

// ResolveEndpoint turns an ipc.Endpoint into the Pipe it names: a
// process's port (creating it on first use, matching PortTable.Open's
// contract) when Type is EndpointProcess, or a thread's built-in pipe
// when Type is EndpointThread (ep.Process holds the thread id in that
// case, per ipc.Endpoint's doc comment).
func (pm *ProcessManager) ResolveEndpoint(ep ipc.Endpoint) (*ipc.Pipe, error) {
	switch ep.Type {
	case ipc.EndpointThread:
		th, ok := pm.Threads.Get(ID(ep.Process))
		if !ok {
			return nil, kernelerr.New("ResolveEndpoint", kernelerr.DoesNotExist, "unknown thread id")
		}
		return th.OpenPipe(0), nil
	default:
		proc, ok := pm.Processes.Get(ID(ep.Process))
		if !ok {
			return nil, kernelerr.New("ResolveEndpoint", kernelerr.DoesNotExist, "unknown process id")
		}
		pipe, err := proc.OpenPipe(ep.Port, 0)
		if err != nil {
			return nil, err
		}
		return pipe, nil
	}
}
