package rpc

import "net/http"

// nodeEntry mirrors membership.memberEntry: NodeManagement.node_list reports
// each member's tokens alongside its addresses so a polling seed can
// republish a full ring snapshot, not just the distinct peer set.
type nodeEntry struct {
	NodeID   uint16   `json:"node_id"`
	RPCAddr  string   `json:"rpc_addr"`
	XferAddr string   `json:"xfer_addr"`
	Tokens   []uint64 `json:"tokens"`
}

// NodeList handles NodeManagement.node_list.
//
//	@Summary	Current cluster membership
//	@Tags		NodeManagement
//	@Produce	json
//	@Router		/v1/nodes [get]
func (s *Server) NodeList(w http.ResponseWriter, r *http.Request) {
	tokensByNode := s.DHT.Tokens()

	members := s.DHT.Members()
	out := make([]nodeEntry, 0, len(members))
	for _, p := range members {
		out = append(out, nodeEntry{
			NodeID:   p.NodeID,
			RPCAddr:  p.RPCAddr,
			XferAddr: p.XferAddr,
			Tokens:   tokensByNode[p.NodeID],
		})
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"members": out})
}
